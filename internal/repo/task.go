package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nsmelkov/todo-app/internal/model"
)

var (
	ErrorNotFound = errors.New("not found")
	ErrorConflict = errors.New("conflict")
)

const taskColumns = "id, user_id, title, description, completed, priority, due_date, tags, color, created_at, updated_at"

type TaskRepo struct { // Репозиторий для работы непосредственно с БД
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo { // Конструктор
	return &TaskRepo{
		pool: pool,
	}
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &t.Description, &t.Completed,
		&t.Priority, &t.DueDate, &t.Tags, &t.Color, &t.CreatedAt, &t.UpdatedAt,
	)
	return t, err
}

func (r *TaskRepo) Create(ctx context.Context, t model.Task) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (user_id, title, description, completed, priority, due_date, tags, color)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+taskColumns,
		t.UserID, t.Title, t.Description, t.Completed, t.Priority, t.DueDate, t.Tags, t.Color,
	)
	created, err := scanTask(row)
	if err != nil {
		return t, mapError(err)
	}
	return created, nil
}

func (r *TaskRepo) Get(ctx context.Context, id, userID int64) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = $1 AND user_id = $2
	`, id, userID)

	t, err := scanTask(row)
	if err == pgx.ErrNoRows { // Чужая задача неотличима от отсутствующей
		return t, ErrorNotFound
	}
	return t, err
}

// buildFilter собирает WHERE-условия; фильтры комбинируются через AND.
func buildFilter(userID int64, f model.TaskFilter) (string, []any) {
	conds := []string{"user_id = $1"}
	args := []any{userID}

	switch f.Status {
	case model.FilterCompleted:
		conds = append(conds, "completed")
	case model.FilterActive:
		conds = append(conds, "NOT completed")
	case model.FilterOverdue:
		conds = append(conds, "NOT completed AND due_date IS NOT NULL AND due_date < now()")
	}

	if f.Priority != nil {
		args = append(args, *f.Priority)
		conds = append(conds, fmt.Sprintf("priority = $%d", len(args)))
	}

	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(title ILIKE $%d OR description ILIKE $%d)", n, n))
	}

	return strings.Join(conds, " AND "), args
}

func orderClause(sort model.SortKey) string {
	switch sort {
	case model.SortPriority:
		return "ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at DESC, id DESC"
	case model.SortDueDate:
		return "ORDER BY due_date ASC NULLS LAST, created_at DESC, id DESC"
	case model.SortTitle:
		return "ORDER BY title ASC, created_at DESC, id DESC"
	default:
		return "ORDER BY created_at DESC, id DESC"
	}
}

// List возвращает страницу задач пользователя и общее число строк под фильтром.
// Номер страницы за пределами диапазона прижимается к последней странице.
func (r *TaskRepo) List(ctx context.Context, userID int64, filter model.TaskFilter, page, perPage int) ([]model.Task, int, error) {
	where, args := buildFilter(userID, filter)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT count(*) FROM tasks WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if perPage <= 0 {
		perPage = 20
	}
	lastPage := (total + perPage - 1) / perPage
	if lastPage == 0 {
		lastPage = 1
	}
	if page < 1 {
		page = 1
	}
	if page > lastPage {
		page = lastPage
	}

	query := fmt.Sprintf(
		"SELECT %s FROM tasks WHERE %s %s LIMIT $%d OFFSET $%d",
		taskColumns, where, orderClause(filter.Sort), len(args)+1, len(args)+2,
	)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks := make([]model.Task, 0, perPage)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

// ListAll возвращает все задачи пользователя (для экспорта и API).
func (r *TaskRepo) ListAll(ctx context.Context, userID int64) ([]model.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (r *TaskRepo) Update(ctx context.Context, t model.Task) (model.Task, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET title = $3, description = $4, priority = $5, due_date = $6,
		    tags = $7, color = $8, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING `+taskColumns,
		t.ID, t.UserID, t.Title, t.Description, t.Priority, t.DueDate, t.Tags, t.Color,
	)

	updated, err := scanTask(row)
	if err == pgx.ErrNoRows {
		return t, ErrorNotFound
	}
	return updated, err
}

func (r *TaskRepo) Delete(ctx context.Context, id, userID int64) error {
	cmd, err := r.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrorNotFound
	}
	return nil
}

// ToggleCompletion переворачивает флаг одним UPDATE, поэтому параллельные
// запросы не могут потерять чужую запись — побеждает последний.
func (r *TaskRepo) ToggleCompletion(ctx context.Context, id, userID int64) (bool, error) {
	var completed bool
	err := r.pool.QueryRow(ctx, `
		UPDATE tasks
		SET completed = NOT completed, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING completed
	`, id, userID).Scan(&completed)

	if err == pgx.ErrNoRows {
		return false, ErrorNotFound
	}
	return completed, err
}

// Массовые операции работают только по задачам владельца: чужие и
// несуществующие id просто не попадают под WHERE.

func (r *TaskRepo) BulkSetCompleted(ctx context.Context, userID int64, ids []int64, completed bool) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET completed = $3, updated_at = now()
		WHERE user_id = $1 AND id = ANY($2)
	`, userID, ids, completed)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *TaskRepo) BulkSetPriority(ctx context.Context, userID int64, ids []int64, p model.Priority) (int64, error) {
	cmd, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET priority = $3, updated_at = now()
		WHERE user_id = $1 AND id = ANY($2)
	`, userID, ids, p)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *TaskRepo) BulkDelete(ctx context.Context, userID int64, ids []int64) (int64, error) {
	cmd, err := r.pool.Exec(ctx, "DELETE FROM tasks WHERE user_id = $1 AND id = ANY($2)", userID, ids)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// CreateMany вставляет все задачи в одной транзакции: либо весь импорт, либо ничего.
func (r *TaskRepo) CreateMany(ctx context.Context, tasks []model.Task) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	for _, t := range tasks {
		_, err := tx.Exec(ctx, `
			INSERT INTO tasks (user_id, title, description, completed, priority, due_date, tags, color)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, t.UserID, t.Title, t.Description, t.Completed, t.Priority, t.DueDate, t.Tags, t.Color)
		if err != nil {
			return 0, mapError(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(tasks), nil
}

// Stats агрегирует по полному набору задач пользователя; активные фильтры
// списка на статистику не влияют.
func (r *TaskRepo) Stats(ctx context.Context, userID int64) (model.Stats, error) {
	stats := model.ZeroStats()

	var low, medium, high int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE completed),
		       count(*) FILTER (WHERE NOT completed),
		       count(*) FILTER (WHERE NOT completed AND due_date < now()),
		       count(*) FILTER (WHERE priority = 'low'),
		       count(*) FILTER (WHERE priority = 'medium'),
		       count(*) FILTER (WHERE priority = 'high'),
		       count(*) FILTER (WHERE created_at >= now() - interval '7 days'),
		       count(*) FILTER (WHERE completed AND updated_at >= now() - interval '7 days')
		FROM tasks
		WHERE user_id = $1
	`, userID).Scan(
		&stats.Total, &stats.Completed, &stats.Active, &stats.Overdue,
		&low, &medium, &high,
		&stats.CreatedLast7Days, &stats.CompletedLast7Days,
	)
	if err != nil {
		return model.ZeroStats(), err
	}
	stats.ByPriority[model.PriorityLow] = low
	stats.ByPriority[model.PriorityMedium] = medium
	stats.ByPriority[model.PriorityHigh] = high

	// Интервалы и подписи строятся в UTC, чтобы совпадать с date_trunc
	now := time.Now().UTC()

	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -5, 0)
	stats.Monthly, err = r.bucketCounts(ctx, userID, "month", "2006-01", monthStart, 6)
	if err != nil {
		return model.ZeroStats(), err
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -6)
	stats.Daily, err = r.bucketCounts(ctx, userID, "day", "01-02", dayStart, 7)
	if err != nil {
		return model.ZeroStats(), err
	}

	return stats, nil
}

// bucketCounts строит гистограмму создания/завершения по календарным
// интервалам; пустые интервалы присутствуют с нулями. Усечение выполняется
// по UTC независимо от таймзоны сессии БД, иначе границы суток в запросе и
// подписи в Go разойдутся.
func (r *TaskRepo) bucketCounts(ctx context.Context, userID int64, trunc, labelFormat string, since time.Time, n int) ([]model.TimeBucket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT date_trunc($2, created_at AT TIME ZONE 'UTC'), count(*), 0::bigint
		FROM tasks
		WHERE user_id = $1 AND created_at >= $3
		GROUP BY 1
		UNION ALL
		SELECT date_trunc($2, updated_at AT TIME ZONE 'UTC'), 0::bigint, count(*)
		FROM tasks
		WHERE user_id = $1 AND completed AND updated_at >= $3
		GROUP BY 1
	`, userID, trunc, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type pair struct{ created, completed int }
	counts := make(map[string]pair)
	for rows.Next() {
		var bucket time.Time
		var created, completed int
		if err := rows.Scan(&bucket, &created, &completed); err != nil {
			return nil, err
		}
		key := bucket.UTC().Format(labelFormat)
		p := counts[key]
		p.created += created
		p.completed += completed
		counts[key] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	buckets := make([]model.TimeBucket, 0, n)
	for i := 0; i < n; i++ {
		var at time.Time
		if trunc == "month" {
			at = since.AddDate(0, i, 0)
		} else {
			at = since.AddDate(0, 0, i)
		}
		label := at.Format(labelFormat)
		p := counts[label]
		buckets = append(buckets, model.TimeBucket{Label: label, Created: p.created, Completed: p.completed})
	}
	return buckets, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return ErrorConflict
		}
	}
	return err
}
