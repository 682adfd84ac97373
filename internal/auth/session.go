package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nsmelkov/todo-app/internal/model"
	"github.com/nsmelkov/todo-app/pkg/respond"
)

const CookieName = "todo_session"

// SessionStore резолвит cookie в пользователя; реализуется repo.UserRepo.
type SessionStore interface {
	GetSession(ctx context.Context, token string) (model.Session, error)
	GetUserByID(ctx context.Context, id int64) (model.User, error)
}

type contextKey string

const (
	userKey  contextKey = "auth.user"
	tokenKey contextKey = "auth.token"
)

// Load кладёт пользователя в контекст, если cookie указывает на живую сессию.
// Сам по себе ничего не блокирует - за это отвечает Require.
func Load(store SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := store.GetSession(r.Context(), cookie.Value)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			user, err := store.GetUserByID(r.Context(), session.UserID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(WithUser(r.Context(), user), tokenKey, session.Token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Require отсекает неаутентифицированные запросы: JSON-клиенты получают 401,
// браузер уезжает на страницу логина.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			if WantsJSON(r) {
				respond.Error(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			http.Redirect(w, r, "/login/", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WantsJSON различает программных и браузерных клиентов.
func WantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

// WithUser возвращает контекст с аутентифицированным пользователем.
func WithUser(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

func UserFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(userKey).(model.User)
	return u, ok
}

func TokenFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok
}

// SetCookie выставляет сессионную cookie с теми же атрибутами, что и логин.
func SetCookie(w http.ResponseWriter, session model.Session, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func ClearCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
