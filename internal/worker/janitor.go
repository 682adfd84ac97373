package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nsmelkov/todo-app/internal/repo"
)

// Janitor периодически удаляет протухшие сессии. Единственная фоновая
// активность процесса.
type Janitor struct {
	users    repo.UserRepository
	logger   *zap.Logger
	interval time.Duration
	wg       sync.WaitGroup
	stop     chan struct{}
}

func NewJanitor(users repo.UserRepository, logger *zap.Logger, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		users:    users,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info("Starting session janitor", zap.Duration("interval", j.interval))

	j.wg.Add(1)
	go j.run(ctx)
}

func (j *Janitor) Stop() {
	j.logger.Info("Stopping session janitor...")
	close(j.stop)
	j.wg.Wait()
	j.logger.Info("Session janitor stopped")
}

func (j *Janitor) run(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	deleted, err := j.users.DeleteExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("session sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		j.logger.Info("expired sessions removed", zap.Int64("count", deleted))
	}
}
