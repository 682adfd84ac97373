package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nsmelkov/todo-app/internal/auth"
	"github.com/nsmelkov/todo-app/internal/config"
	"github.com/nsmelkov/todo-app/internal/handler"
	"github.com/nsmelkov/todo-app/internal/repo"
	"github.com/nsmelkov/todo-app/internal/service"
	"github.com/nsmelkov/todo-app/internal/web"
)

func setupE2EServer(t *testing.T) (*httptest.Server, func()) {
	pool, cleanup := SetupTestDB(t)
	TruncateTables(t, pool)

	cfg := config.Default()
	logger := zap.NewNop()

	renderer, err := web.NewRenderer(logger)
	require.NoError(t, err)

	taskRepo := repo.NewTaskRepo(pool)
	userRepo := repo.NewUserRepo(pool)
	taskService := service.NewTaskService(taskRepo, logger, cfg)
	authService := service.NewAuthService(userRepo, logger, cfg.SessionTTL)
	taskHandler := handler.NewTaskHandler(taskService, renderer, logger)
	authHandler := handler.NewAuthHandler(authService, renderer, logger, false)
	apiHandler := handler.NewAPIHandler(taskService, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(auth.Load(userRepo))

	r.Get("/register/", authHandler.RegisterForm)
	r.Post("/register/", authHandler.Register)
	r.Get("/login/", authHandler.LoginForm)
	r.Post("/login/", authHandler.Login)
	r.Post("/logout/", authHandler.Logout)

	r.Group(func(r chi.Router) {
		r.Use(auth.Require)

		r.Get("/", taskHandler.List)
		r.Post("/create/", taskHandler.Create)
		r.Post("/edit/{id}/", taskHandler.Edit)
		r.Post("/delete/{id}/", taskHandler.Delete)
		r.Post("/toggle/{id}/", taskHandler.Toggle)
		r.Post("/bulk-update/", taskHandler.BulkUpdate)
		r.Post("/bulk-delete/", taskHandler.BulkDelete)
		r.Get("/export/{format}", taskHandler.Export)
		r.Post("/import/", taskHandler.Import)

		r.Get("/api/tasks/", apiHandler.List)
		r.Get("/api/tasks/{id}/", apiHandler.Get)
	})

	server := httptest.NewServer(r)

	return server, func() {
		server.Close()
		cleanup()
	}
}

// newBrowser возвращает клиент с cookie jar, не следующий за редиректами,
// чтобы проверять статусы и Location напрямую.
func newBrowser(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postForm(t *testing.T, client *http.Client, target string, form url.Values) *http.Response {
	t.Helper()
	resp, err := client.Post(target, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	return resp
}

func registerUser(t *testing.T, client *http.Client, baseURL, username string) {
	t.Helper()
	resp := postForm(t, client, baseURL+"/register/", url.Values{
		"username":  {username},
		"password1": {"password123"},
		"password2": {"password123"},
	})
	resp.Body.Close()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))
}

type apiTask struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Priority  string `json:"priority"`
	Completed bool   `json:"completed"`
	IsOverdue bool   `json:"is_overdue"`
}

func listTasks(t *testing.T, client *http.Client, baseURL string) []apiTask {
	t.Helper()
	resp, err := client.Get(baseURL + "/api/tasks/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tasks []apiTask
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tasks))
	return tasks
}

func TestE2E_FullWorkflow(t *testing.T) {
	server, cleanup := setupE2EServer(t)
	defer cleanup()

	alice := newBrowser(t)

	t.Run("unauthenticated browser is sent to login", func(t *testing.T) {
		resp, err := alice.Get(server.URL + "/")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/login/", resp.Header.Get("Location"))
	})

	t.Run("unauthenticated api gets 401", func(t *testing.T) {
		resp, err := alice.Get(server.URL + "/api/tasks/")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	registerUser(t, alice, server.URL, "alice")

	t.Run("registered user sees her list", func(t *testing.T) {
		resp, err := alice.Get(server.URL + "/")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "alice")
	})

	t.Run("create tasks", func(t *testing.T) {
		for _, form := range []url.Values{
			{"title": {"Buy milk"}, "priority": {"high"}, "tags": {"shopping"}},
			{"title": {"Write report"}, "priority": {"low"}, "due_date": {"2030-06-01"}},
		} {
			resp := postForm(t, alice, server.URL+"/create/", form)
			resp.Body.Close()
			assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		}

		tasks := listTasks(t, alice, server.URL)
		assert.Len(t, tasks, 2)
	})

	t.Run("invalid form does not create a task", func(t *testing.T) {
		resp := postForm(t, alice, server.URL+"/create/", url.Values{"title": {"ab"}})
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode) // форма показана заново
		assert.Contains(t, string(body), "at least 3 characters")
		assert.Len(t, listTasks(t, alice, server.URL), 2)
	})

	var taskID int64
	t.Run("toggle completion", func(t *testing.T) {
		for _, task := range listTasks(t, alice, server.URL) {
			if task.Title == "Buy milk" {
				taskID = task.ID
			}
		}
		require.NotZero(t, taskID)

		resp := postForm(t, alice, fmt.Sprintf("%s/toggle/%d/", server.URL, taskID), url.Values{})
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

		for _, task := range listTasks(t, alice, server.URL) {
			if task.ID == taskID {
				assert.True(t, task.Completed)
			}
		}
	})

	t.Run("filter by status", func(t *testing.T) {
		resp, err := alice.Get(server.URL + "/?filter=completed")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Contains(t, string(body), "Buy milk")
		assert.NotContains(t, string(body), "Write report</span>")
	})

	t.Run("search", func(t *testing.T) {
		resp, err := alice.Get(server.URL + "/?search=report")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Contains(t, string(body), "Write report")
		assert.NotContains(t, string(body), "Buy milk</span>")
	})

	bob := newBrowser(t)
	registerUser(t, bob, server.URL, "bob")

	t.Run("users are isolated", func(t *testing.T) {
		assert.Empty(t, listTasks(t, bob, server.URL))

		// Чужая задача недоступна даже по прямому ID
		req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/toggle/%d/", server.URL, taskID), nil)
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
		resp, err := bob.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		// И массовые операции чужие ID пропускают
		resp = postForm(t, bob, server.URL+"/bulk-delete/", url.Values{"ids": {strconv.FormatInt(taskID, 10)}})
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Len(t, listTasks(t, alice, server.URL), 2)
	})

	t.Run("export and import round trip", func(t *testing.T) {
		resp, err := alice.Get(server.URL + "/export/json")
		require.NoError(t, err)
		exported, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")

		// Боб импортирует выгрузку Алисы в свой пустой аккаунт
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, err := mw.CreateFormFile("file", "tasks.json")
		require.NoError(t, err)
		part.Write(exported)
		mw.Close()

		req, _ := http.NewRequest(http.MethodPost, server.URL+"/import/", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err = bob.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/", resp.Header.Get("Location"))
		assert.Len(t, listTasks(t, bob, server.URL), 2)

		// Повторный импорт пропускает дубликаты по названию
		body.Reset()
		mw = multipart.NewWriter(body)
		part, _ = mw.CreateFormFile("file", "tasks.json")
		part.Write(exported)
		mw.Close()

		req, _ = http.NewRequest(http.MethodPost, server.URL+"/import/", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err = bob.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Len(t, listTasks(t, bob, server.URL), 2)
	})

	t.Run("malformed import redirects back with error", func(t *testing.T) {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, _ := mw.CreateFormFile("file", "tasks.json")
		part.Write([]byte("this is not json"))
		mw.Close()

		req, _ := http.NewRequest(http.MethodPost, server.URL+"/import/", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := bob.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/import/", resp.Header.Get("Location"))
	})

	t.Run("logout and login again", func(t *testing.T) {
		resp := postForm(t, alice, server.URL+"/logout/", url.Values{})
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

		resp, err := alice.Get(server.URL + "/")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Equal(t, "/login/", resp.Header.Get("Location"))

		// Неверный пароль не пускает
		resp = postForm(t, alice, server.URL+"/login/", url.Values{
			"username": {"alice"},
			"password": {"wrong-password"},
		})
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "Invalid username or password")

		resp = postForm(t, alice, server.URL+"/login/", url.Values{
			"username": {"alice"},
			"password": {"password123"},
		})
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
		assert.Len(t, listTasks(t, alice, server.URL), 2)
	})

	t.Run("duplicate username is rejected", func(t *testing.T) {
		other := newBrowser(t)
		resp := postForm(t, other, server.URL+"/register/", url.Values{
			"username":  {"alice"},
			"password1": {"password123"},
			"password2": {"password123"},
		})
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, string(body), "already exists")
	})
}
