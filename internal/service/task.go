package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nsmelkov/todo-app/internal/config"
	"github.com/nsmelkov/todo-app/internal/model"
	"github.com/nsmelkov/todo-app/internal/repo"
)

var (
	ErrValidation = errors.New("validation error")
	ErrBadImport  = errors.New("bad import file")
)

// FieldErrors хранит ошибки валидации по полям формы.
type FieldErrors map[string]string

func (e FieldErrors) Error() string { return "validation error" }

// Is позволяет ловить любые FieldErrors через errors.Is(err, ErrValidation).
func (e FieldErrors) Is(target error) bool { return target == ErrValidation }

// TaskInput - сырые значения формы создания/редактирования задачи.
type TaskInput struct {
	Title       string
	Description string
	Priority    string
	DueDate     string
	Tags        string
	Color       string
}

// TaskPage - одна страница списка вместе с данными пагинации.
type TaskPage struct {
	Tasks      []model.Task
	Total      int
	Page       int
	PerPage    int
	TotalPages int
}

var colorRe = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Форматы due_date: datetime-local из браузера, дата без времени и RFC 3339
// из импортируемых файлов.
var dueDateFormats = []string{"2006-01-02T15:04", "2006-01-02", time.RFC3339}

type TaskService struct {
	repo       repo.TaskRepository
	logger     *zap.Logger
	pageSize   int
	failClosed bool
}

func NewTaskService(r repo.TaskRepository, logger *zap.Logger, cfg config.Config) *TaskService {
	return &TaskService{
		repo:       r,
		logger:     logger,
		pageSize:   cfg.PageSize,
		failClosed: cfg.QueryFailurePolicy == config.FailClosed,
	}
}

func (s *TaskService) Create(ctx context.Context, userID int64, in TaskInput) (model.Task, error) {
	t, ferr := s.buildTask(in)
	if len(ferr) > 0 {
		return t, ferr
	}
	t.UserID = userID
	return s.repo.Create(ctx, t)
}

func (s *TaskService) Get(ctx context.Context, id, userID int64) (model.Task, error) {
	return s.repo.Get(ctx, id, userID)
}

func (s *TaskService) Update(ctx context.Context, id, userID int64, in TaskInput) (model.Task, error) {
	t, ferr := s.buildTask(in)
	if len(ferr) > 0 {
		return t, ferr
	}
	t.ID = id
	t.UserID = userID
	return s.repo.Update(ctx, t)
}

func (s *TaskService) Delete(ctx context.Context, id, userID int64) error {
	return s.repo.Delete(ctx, id, userID)
}

func (s *TaskService) ToggleCompletion(ctx context.Context, id, userID int64) (bool, error) {
	return s.repo.ToggleCompletion(ctx, id, userID)
}

// List возвращает страницу задач. При fail_open ошибка запроса логируется,
// а наружу уходит пустая страница; при fail_closed ошибка отдаётся вызывающему.
func (s *TaskService) List(ctx context.Context, userID int64, filter model.TaskFilter, page int) (TaskPage, error) {
	if page < 1 {
		page = 1
	}

	tasks, total, err := s.repo.List(ctx, userID, filter, page, s.pageSize)
	if err != nil {
		if s.failClosed {
			return TaskPage{}, err
		}
		s.logger.Error("task list query failed", zap.Int64("user_id", userID), zap.Error(err))
		return TaskPage{Tasks: []model.Task{}, Page: 1, PerPage: s.pageSize, TotalPages: 1}, nil
	}

	totalPages := (total + s.pageSize - 1) / s.pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}

	return TaskPage{
		Tasks:      tasks,
		Total:      total,
		Page:       page,
		PerPage:    s.pageSize,
		TotalPages: totalPages,
	}, nil
}

func (s *TaskService) ListAll(ctx context.Context, userID int64) ([]model.Task, error) {
	return s.repo.ListAll(ctx, userID)
}

// Stats считает сводку по всем задачам пользователя. Процент выполнения
// округляется арифметически; при нуле задач он равен нулю.
func (s *TaskService) Stats(ctx context.Context, userID int64) (model.Stats, error) {
	stats, err := s.repo.Stats(ctx, userID)
	if err != nil {
		if s.failClosed {
			return model.ZeroStats(), err
		}
		s.logger.Error("stats query failed", zap.Int64("user_id", userID), zap.Error(err))
		return model.ZeroStats(), nil
	}

	stats.CompletionPct = completionPct(stats.Completed, stats.Total)
	return stats, nil
}

func completionPct(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// Bulk применяет действие к списку id. Чужие и несуществующие id молча
// пропускаются; возвращается число реально затронутых задач.
func (s *TaskService) Bulk(ctx context.Context, userID int64, action string, ids []int64, priority string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	switch action {
	case "complete":
		return s.repo.BulkSetCompleted(ctx, userID, ids, true)
	case "activate":
		return s.repo.BulkSetCompleted(ctx, userID, ids, false)
	case "set-priority":
		p, ok := model.ParsePriority(priority)
		if !ok {
			return 0, FieldErrors{"priority": "Select a valid priority."}
		}
		return s.repo.BulkSetPriority(ctx, userID, ids, p)
	case "delete":
		return s.repo.BulkDelete(ctx, userID, ids)
	default:
		return 0, FieldErrors{"action": "Unknown bulk action."}
	}
}

func (s *TaskService) BulkDelete(ctx context.Context, userID int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.repo.BulkDelete(ctx, userID, ids)
}

// ExportJSON пишет полный набор задач пользователя как JSON-массив.
func (s *TaskService) ExportJSON(ctx context.Context, userID int64, w io.Writer) error {
	tasks, err := s.repo.ListAll(ctx, userID)
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tasks)
}

// Колонки CSV зафиксированы, порядок менять нельзя.
var csvHeader = []string{"Title", "Description", "Priority", "Completed", "Due Date", "Tags", "Created At", "Updated At"}

func (s *TaskService) ExportCSV(ctx context.Context, userID int64, w io.Writer) error {
	tasks, err := s.repo.ListAll(ctx, userID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range tasks {
		due := ""
		if t.DueDate != nil {
			due = t.DueDate.Format(time.RFC3339)
		}
		record := []string{
			t.Title,
			t.Description,
			string(t.Priority),
			strconv.FormatBool(t.Completed),
			due,
			t.Tags,
			t.CreatedAt.Format(time.RFC3339),
			t.UpdatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Import читает JSON-массив задач. Задачи с уже существующим у пользователя
// заголовком и задачи с заголовком вне лимита длины пропускаются, недостающие
// поля получают значения по умолчанию. Все вставки выполняются в одной
// транзакции.
func (s *TaskService) Import(ctx context.Context, userID int64, r io.Reader) (int, error) {
	var incoming []model.Task
	if err := json.NewDecoder(r).Decode(&incoming); err != nil {
		return 0, ErrBadImport
	}

	existing, err := s.repo.ListAll(ctx, userID)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[t.Title] = struct{}{}
	}

	toCreate := make([]model.Task, 0, len(incoming))
	for _, in := range incoming {
		// Заголовки проходят те же лимиты, что и форма создания
		title := strings.TrimSpace(in.Title)
		if n := utf8.RuneCountInString(title); n < 3 || n > 255 {
			continue
		}
		if _, dup := seen[title]; dup {
			continue
		}
		seen[title] = struct{}{}

		priority := in.Priority
		if _, ok := model.ParsePriority(string(priority)); !ok {
			priority = model.PriorityMedium
		}

		toCreate = append(toCreate, model.Task{
			UserID:      userID,
			Title:       title,
			Description: in.Description,
			Completed:   in.Completed,
			Priority:    priority,
			DueDate:     in.DueDate,
			Tags:        in.Tags,
			Color:       in.Color,
		})
	}

	return s.repo.CreateMany(ctx, toCreate)
}

// buildTask валидирует ввод формы и собирает задачу. Возвращённая карта пуста,
// когда все поля корректны.
func (s *TaskService) buildTask(in TaskInput) (model.Task, FieldErrors) {
	ferr := FieldErrors{}

	// Лимиты считаются в символах, не в байтах
	title := strings.TrimSpace(in.Title)
	switch {
	case title == "":
		ferr["title"] = "Title cannot be empty."
	case utf8.RuneCountInString(title) < 3:
		ferr["title"] = "Title must be at least 3 characters long."
	case utf8.RuneCountInString(title) > 255:
		ferr["title"] = "Title cannot exceed 255 characters."
	}

	description := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(description) > 2000 {
		ferr["description"] = "Description cannot exceed 2000 characters."
	} else if title != "" && strings.EqualFold(title, description) {
		ferr["description"] = "Description should be different from the title."
	}

	priority := model.PriorityMedium
	if in.Priority != "" {
		p, ok := model.ParsePriority(in.Priority)
		if !ok {
			ferr["priority"] = "Select a valid priority."
		} else {
			priority = p
		}
	}

	var dueDate *time.Time
	if in.DueDate != "" {
		parsed, err := parseDueDate(in.DueDate)
		if err != nil {
			ferr["due_date"] = "Enter a valid date and time."
		} else if parsed.Before(time.Now().AddDate(0, 0, -365)) {
			ferr["due_date"] = "Due date cannot be more than 1 year in the past."
		} else {
			dueDate = &parsed
		}
	}

	color := strings.TrimSpace(in.Color)
	if color != "" && !colorRe.MatchString(color) {
		ferr["color"] = "Color must be a hex code like #FF5733."
	}

	return model.Task{
		Title:       title,
		Description: description,
		Priority:    priority,
		DueDate:     dueDate,
		Tags:        strings.TrimSpace(in.Tags),
		Color:       color,
	}, ferr
}

func parseDueDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range dueDateFormats {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
