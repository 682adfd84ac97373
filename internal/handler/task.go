package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nsmelkov/todo-app/internal/auth"
	"github.com/nsmelkov/todo-app/internal/model"
	"github.com/nsmelkov/todo-app/internal/repo"
	"github.com/nsmelkov/todo-app/internal/service"
	"github.com/nsmelkov/todo-app/internal/web"
	"github.com/nsmelkov/todo-app/pkg/respond"
)

type TaskHandler struct {
	service  *service.TaskService
	renderer *web.Renderer
	logger   *zap.Logger
}

func NewTaskHandler(srv *service.TaskService, renderer *web.Renderer, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		service:  srv,
		renderer: renderer,
		logger:   logger,
	}
}

type listData struct {
	Page     service.TaskPage
	Stats    model.Stats
	Filter   string
	Priority string
	Sort     string
	Search   string
	Query    string
}

func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	q := r.URL.Query()

	filter := model.TaskFilter{
		Status: model.ParseStatusFilter(q.Get("filter")),
		Search: q.Get("search"),
		Sort:   model.ParseSortKey(q.Get("sort")),
	}
	if p, ok := model.ParsePriority(q.Get("priority")); ok {
		filter.Priority = &p
	}
	page, _ := strconv.Atoi(q.Get("page"))

	taskPage, err := h.service.List(r.Context(), user.ID, filter, page)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	stats, err := h.service.Stats(r.Context(), user.ID)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	// Query без номера страницы - для ссылок пагинации.
	pageless := url.Values{}
	for _, key := range []string{"filter", "priority", "search", "sort"} {
		if v := q.Get(key); v != "" {
			pageless.Set(key, v)
		}
	}

	priority := ""
	if filter.Priority != nil {
		priority = string(*filter.Priority)
	}

	h.renderer.Render(w, "list", web.View{
		Title: "My tasks",
		User:  &user,
		Flash: web.PopFlash(w, r),
		Data: listData{
			Page:     taskPage,
			Stats:    stats,
			Filter:   string(filter.Status),
			Priority: priority,
			Sort:     string(filter.Sort),
			Search:   filter.Search,
			Query:    pageless.Encode(),
		},
	})
}

type formData struct {
	Input  service.TaskInput
	Errors service.FieldErrors
}

func (h *TaskHandler) CreateForm(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	h.renderer.Render(w, "form", web.View{
		Title: "New task",
		User:  &user,
		Flash: web.PopFlash(w, r),
		Data:  formData{},
	})
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	input := taskInputFromForm(r)

	_, err := h.service.Create(r.Context(), user.ID, input)
	if err != nil {
		var ferr service.FieldErrors
		if errors.As(err, &ferr) { // Невалидная форма показывается заново с ошибками
			h.renderer.Render(w, "form", web.View{
				Title: "New task",
				User:  &user,
				Data:  formData{Input: input, Errors: ferr},
			})
			return
		}
		h.handleErrors(w, r, err)
		return
	}

	web.SetFlash(w, "success", "Task created successfully!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *TaskHandler) EditForm(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	task, err := h.service.Get(r.Context(), id, user.ID)
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	due := ""
	if task.DueDate != nil {
		due = task.DueDate.Local().Format("2006-01-02T15:04")
	}
	h.renderer.Render(w, "form", web.View{
		Title: "Edit task",
		User:  &user,
		Flash: web.PopFlash(w, r),
		Data: formData{Input: service.TaskInput{
			Title:       task.Title,
			Description: task.Description,
			Priority:    string(task.Priority),
			DueDate:     due,
			Tags:        task.Tags,
			Color:       task.Color,
		}},
	})
}

func (h *TaskHandler) Edit(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	input := taskInputFromForm(r)

	_, err := h.service.Update(r.Context(), id, user.ID, input)
	if err != nil {
		var ferr service.FieldErrors
		if errors.As(err, &ferr) {
			h.renderer.Render(w, "form", web.View{
				Title: "Edit task",
				User:  &user,
				Data:  formData{Input: input, Errors: ferr},
			})
			return
		}
		h.handleErrors(w, r, err)
		return
	}

	web.SetFlash(w, "success", "Task updated successfully!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	if err := h.service.Delete(r.Context(), id, user.ID); err != nil {
		h.handleErrors(w, r, err)
		return
	}

	web.SetFlash(w, "success", "Task deleted successfully!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *TaskHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)

	completed, err := h.service.ToggleCompletion(r.Context(), id, user.ID)
	if err != nil {
		if auth.WantsJSON(r) {
			h.handleAPIErrors(w, r, err)
			return
		}
		h.handleErrors(w, r, err)
		return
	}

	if auth.WantsJSON(r) {
		respond.JSON(w, r, http.StatusOK, map[string]any{
			"success":   true,
			"completed": completed,
		})
		return
	}

	web.SetFlash(w, "success", "Task status updated!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *TaskHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		h.handleErrors(w, r, err)
		return
	}

	ids := parseIDs(r.Form["ids"])
	action := r.Form.Get("action")

	count, err := h.service.Bulk(r.Context(), user.ID, action, ids, r.Form.Get("priority"))
	if err != nil {
		var ferr service.FieldErrors
		if errors.As(err, &ferr) {
			web.SetFlash(w, "error", firstError(ferr))
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		h.handleErrors(w, r, err)
		return
	}

	web.SetFlash(w, "success", fmt.Sprintf("%d task(s) updated.", count))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *TaskHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	if err := r.ParseForm(); err != nil {
		h.handleErrors(w, r, err)
		return
	}

	count, err := h.service.BulkDelete(r.Context(), user.ID, parseIDs(r.Form["ids"]))
	if err != nil {
		h.handleErrors(w, r, err)
		return
	}

	web.SetFlash(w, "success", fmt.Sprintf("%d task(s) deleted.", count))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *TaskHandler) Export(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	stamp := time.Now().Format("2006-01-02")

	switch chi.URLParam(r, "format") {
	case "json":
		respond.Attachment(w, "tasks-"+stamp+".json", "application/json")
		if err := h.service.ExportJSON(r.Context(), user.ID, w); err != nil {
			h.logger.Error("json export failed", zap.Error(err))
		}
	case "csv":
		respond.Attachment(w, "tasks-"+stamp+".csv", "text/csv")
		if err := h.service.ExportCSV(r.Context(), user.ID, w); err != nil {
			h.logger.Error("csv export failed", zap.Error(err))
		}
	default:
		http.NotFound(w, r)
	}
}

func (h *TaskHandler) ImportForm(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	h.renderer.Render(w, "import", web.View{
		Title: "Import tasks",
		User:  &user,
		Flash: web.PopFlash(w, r),
	})
}

func (h *TaskHandler) Import(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	file, _, err := r.FormFile("file")
	if err != nil {
		web.SetFlash(w, "error", "Could not import tasks. Please check the file format.")
		http.Redirect(w, r, "/import/", http.StatusSeeOther)
		return
	}
	defer file.Close()

	count, err := h.service.Import(r.Context(), user.ID, file)
	if err != nil {
		if errors.Is(err, service.ErrBadImport) {
			web.SetFlash(w, "error", "Could not import tasks. Please check the file format.")
			http.Redirect(w, r, "/import/", http.StatusSeeOther)
			return
		}
		h.handleErrors(w, r, err)
		return
	}

	web.SetFlash(w, "success", fmt.Sprintf("Imported %d task(s).", count))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func taskInputFromForm(r *http.Request) service.TaskInput {
	r.ParseForm()
	return service.TaskInput{
		Title:       r.Form.Get("title"),
		Description: r.Form.Get("description"),
		Priority:    r.Form.Get("priority"),
		DueDate:     r.Form.Get("due_date"),
		Tags:        r.Form.Get("tags"),
		Color:       r.Form.Get("color"),
	}
}

func parseIDs(raw []string) []int64 {
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func firstError(ferr service.FieldErrors) string {
	for _, msg := range ferr {
		return msg
	}
	return "Please correct the errors below."
}

// Браузерная ветка обработки ошибок: flash + redirect вместо JSON-кодов.
func (h *TaskHandler) handleErrors(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrorNotFound):
		web.SetFlash(w, "error", "Task not found.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
	default:
		h.logger.Error("internal error", zap.Error(err))
		web.SetFlash(w, "error", "An error occurred. Please try again.")
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (h *TaskHandler) handleAPIErrors(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrorNotFound):
		respond.Error(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrValidation):
		respond.Error(w, r, http.StatusBadRequest, "validation error")
	default:
		h.logger.Error("internal error", zap.Error(err))
		respond.Error(w, r, http.StatusInternalServerError, "internal error")
	}
}
