package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nsmelkov/todo-app/internal/auth"
	"github.com/nsmelkov/todo-app/internal/model"
	"github.com/nsmelkov/todo-app/internal/service"
	"github.com/nsmelkov/todo-app/pkg/respond"
)

// APIHandler - минимальный JSON API: список и одна задача, только чтение.
type APIHandler struct {
	service *service.TaskService
	logger  *zap.Logger
}

func NewAPIHandler(srv *service.TaskService, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		service: srv,
		logger:  logger,
	}
}

// apiTask дополняет экспортный набор полей вычисляемыми значениями.
type apiTask struct {
	model.Task
	IsOverdue    bool `json:"is_overdue"`
	DaysUntilDue *int `json:"days_until_due"`
}

func toAPITask(t model.Task) apiTask {
	return apiTask{
		Task:         t,
		IsOverdue:    t.IsOverdue(),
		DaysUntilDue: t.DaysUntilDue(),
	}
}

func (h *APIHandler) List(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	tasks, err := h.service.ListAll(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("api list failed", zap.Error(err))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]apiTask, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toAPITask(t))
	}
	respond.JSON(w, r, http.StatusOK, out)
}

func (h *APIHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	task, err := h.service.Get(r.Context(), id, user.ID)
	if err != nil {
		respond.Error(w, r, http.StatusNotFound, "not found")
		return
	}
	respond.JSON(w, r, http.StatusOK, toAPITask(task))
}
