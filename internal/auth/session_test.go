package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsmelkov/todo-app/internal/model"
	"github.com/nsmelkov/todo-app/internal/repo"
)

type fakeStore struct {
	sessions map[string]model.Session
	users    map[int64]model.User
}

func (f *fakeStore) GetSession(_ context.Context, token string) (model.Session, error) {
	s, ok := f.sessions[token]
	if !ok || s.ExpiresAt.Before(time.Now()) {
		return model.Session{}, repo.ErrorNotFound
	}
	return s, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, id int64) (model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return model.User{}, repo.ErrorNotFound
	}
	return u, nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]model.Session{
			"valid-token": {Token: "valid-token", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)},
			"stale-token": {Token: "stale-token", UserID: 1, ExpiresAt: time.Now().Add(-time.Hour)},
		},
		users: map[int64]model.User{
			1: {ID: 1, Username: "alice"},
		},
	}
}

func protected(store SessionStore) (http.Handler, *model.User) {
	var seen model.User
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if ok {
			seen = user
		}
		w.WriteHeader(http.StatusOK)
	})
	return Load(store)(Require(inner)), &seen
}

func TestRequire_BrowserRedirectsToLogin(t *testing.T) {
	h, _ := protected(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login/", w.Header().Get("Location"))
}

func TestRequire_APIGets401(t *testing.T) {
	h, _ := protected(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "authentication required")
}

func TestRequire_XHRGets401(t *testing.T) {
	h, _ := protected(newFakeStore())

	req := httptest.NewRequest(http.MethodPost, "/toggle/1/", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoad_ValidSession(t *testing.T) {
	h, seen := protected(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "valid-token"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", seen.Username)
}

func TestLoad_ExpiredSession(t *testing.T) {
	h, _ := protected(newFakeStore())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "stale-token"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestWantsJSON(t *testing.T) {
	api := httptest.NewRequest(http.MethodGet, "/api/tasks/", nil)
	assert.True(t, WantsJSON(api))

	xhr := httptest.NewRequest(http.MethodPost, "/toggle/1/", nil)
	xhr.Header.Set("X-Requested-With", "XMLHttpRequest")
	assert.True(t, WantsJSON(xhr))

	browser := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, WantsJSON(browser))
}

func TestCookieRoundTrip(t *testing.T) {
	w := httptest.NewRecorder()
	SetCookie(w, model.Session{Token: "abc", ExpiresAt: time.Now().Add(time.Hour)}, false)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, "abc", cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	w2 := httptest.NewRecorder()
	ClearCookie(w2, false)
	cleared := w2.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Empty(t, cleared[0].Value)
	assert.Negative(t, cleared[0].MaxAge)
}
