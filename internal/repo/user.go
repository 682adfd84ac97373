package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nsmelkov/todo-app/internal/model"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) CreateUser(ctx context.Context, username, passwordHash string) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash)
		VALUES ($1, $2)
		RETURNING id, username, password_hash, created_at
	`, username, passwordHash).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)

	return u, mapError(err)
}

func (r *UserRepo) GetUserByName(ctx context.Context, username string) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)

	if err == pgx.ErrNoRows {
		return u, ErrorNotFound
	}
	return u, err
}

func (r *UserRepo) GetUserByID(ctx context.Context, id int64) (model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)

	if err == pgx.ErrNoRows {
		return u, ErrorNotFound
	}
	return u, err
}

func (r *UserRepo) CreateSession(ctx context.Context, s model.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, s.Token, s.UserID, s.ExpiresAt)
	return err
}

func (r *UserRepo) GetSession(ctx context.Context, token string) (model.Session, error) {
	var s model.Session
	err := r.pool.QueryRow(ctx, `
		SELECT token, user_id, expires_at FROM sessions
		WHERE token = $1 AND expires_at > now()
	`, token).Scan(&s.Token, &s.UserID, &s.ExpiresAt)

	if err == pgx.ErrNoRows {
		return s, ErrorNotFound
	}
	return s, err
}

func (r *UserRepo) DeleteSession(ctx context.Context, token string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE token = $1", token)
	return err
}

// DeleteExpiredSessions вычищает протухшие сессии; вызывается фоновым воркером.
func (r *UserRepo) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	cmd, err := r.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= now()")
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
