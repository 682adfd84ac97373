package repo

import (
	"context"

	"github.com/nsmelkov/todo-app/internal/model"
)

// TaskRepository определяет интерфейс для работы с задачами
type TaskRepository interface {
	Create(ctx context.Context, t model.Task) (model.Task, error)
	Get(ctx context.Context, id, userID int64) (model.Task, error)
	List(ctx context.Context, userID int64, filter model.TaskFilter, page, perPage int) ([]model.Task, int, error)
	ListAll(ctx context.Context, userID int64) ([]model.Task, error)
	Update(ctx context.Context, t model.Task) (model.Task, error)
	Delete(ctx context.Context, id, userID int64) error
	ToggleCompletion(ctx context.Context, id, userID int64) (bool, error)
	BulkSetCompleted(ctx context.Context, userID int64, ids []int64, completed bool) (int64, error)
	BulkSetPriority(ctx context.Context, userID int64, ids []int64, p model.Priority) (int64, error)
	BulkDelete(ctx context.Context, userID int64, ids []int64) (int64, error)
	CreateMany(ctx context.Context, tasks []model.Task) (int, error)
	Stats(ctx context.Context, userID int64) (model.Stats, error)
}

// UserRepository отвечает за пользователей и их сессии
type UserRepository interface {
	CreateUser(ctx context.Context, username, passwordHash string) (model.User, error)
	GetUserByName(ctx context.Context, username string) (model.User, error)
	GetUserByID(ctx context.Context, id int64) (model.User, error)
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, token string) (model.Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context) (int64, error)
}
