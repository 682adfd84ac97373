package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/nsmelkov/todo-app/internal/auth"
	"github.com/nsmelkov/todo-app/internal/config"
	"github.com/nsmelkov/todo-app/internal/handler"
	"github.com/nsmelkov/todo-app/internal/repo"
	"github.com/nsmelkov/todo-app/internal/service"
	"github.com/nsmelkov/todo-app/internal/web"
	"github.com/nsmelkov/todo-app/internal/worker"
)

func main() {
	// Подключаем логгер
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// Подключаем БД
	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to Database.") // Fatal потому что дальнейшая работа теряет смысл
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		log.Fatal("Failed to ping the Database.")
	}
	logger.Info("Successfully connected to the Database!")

	// Схема накатывается строго до старта сервера, без ленивых проверок
	if err := repo.Migrate(context.Background(), pool, logger); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}

	renderer, err := web.NewRenderer(logger)
	if err != nil {
		logger.Fatal("Template init failed", zap.Error(err))
	}

	taskRepo := repo.NewTaskRepo(pool)
	userRepo := repo.NewUserRepo(pool)
	taskService := service.NewTaskService(taskRepo, logger, cfg)
	authService := service.NewAuthService(userRepo, logger, cfg.SessionTTL)
	taskHandler := handler.NewTaskHandler(taskService, renderer, logger)
	authHandler := handler.NewAuthHandler(authService, renderer, logger, cfg.CookieSecure)
	apiHandler := handler.NewAPIHandler(taskService, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(auth.Load(userRepo))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok"}`)
	})

	r.Get("/register/", authHandler.RegisterForm)
	r.Post("/register/", authHandler.Register)
	r.Get("/login/", authHandler.LoginForm)
	r.Post("/login/", authHandler.Login)
	r.Post("/logout/", authHandler.Logout)

	// Всё остальное требует живой сессии
	r.Group(func(r chi.Router) {
		r.Use(auth.Require)

		r.Get("/", taskHandler.List)
		r.Get("/create/", taskHandler.CreateForm)
		r.Post("/create/", taskHandler.Create)
		r.Get("/edit/{id}/", taskHandler.EditForm)
		r.Post("/edit/{id}/", taskHandler.Edit)
		r.Post("/delete/{id}/", taskHandler.Delete)
		r.Post("/toggle/{id}/", taskHandler.Toggle)
		r.Post("/bulk-update/", taskHandler.BulkUpdate)
		r.Post("/bulk-delete/", taskHandler.BulkDelete)
		r.Get("/export/{format}", taskHandler.Export)
		r.Get("/import/", taskHandler.ImportForm)
		r.Post("/import/", taskHandler.Import)

		r.Get("/api/tasks/", apiHandler.List)
		r.Get("/api/tasks/{id}/", apiHandler.Get)
	})

	srv := http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()

	janitor := worker.NewJanitor(userRepo, logger, cfg.JanitorInterval)
	janitor.Start(janitorCtx)

	go func() { // Запуск сервера и обработка ошибок
		logger.Info("Server started at ", zap.String("port", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed: ", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logger.Info("Shutting down server...")
	janitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Shutdown error: ", zap.Error(err))
	}
	logger.Info("Server stopped succsessfully!")
}
