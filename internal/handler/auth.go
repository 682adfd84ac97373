package handler

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nsmelkov/todo-app/internal/auth"
	"github.com/nsmelkov/todo-app/internal/service"
	"github.com/nsmelkov/todo-app/internal/web"
)

type AuthHandler struct {
	service      *service.AuthService
	renderer     *web.Renderer
	logger       *zap.Logger
	cookieSecure bool
}

func NewAuthHandler(srv *service.AuthService, renderer *web.Renderer, logger *zap.Logger, cookieSecure bool) *AuthHandler {
	return &AuthHandler{
		service:      srv,
		renderer:     renderer,
		logger:       logger,
		cookieSecure: cookieSecure,
	}
}

type registerData struct {
	Username string
	Errors   service.FieldErrors
}

func (h *AuthHandler) RegisterForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); ok { // Уже залогинен
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderer.Render(w, "register", web.View{
		Title: "Register",
		Flash: web.PopFlash(w, r),
		Data:  registerData{},
	})
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	r.ParseForm()
	username := r.Form.Get("username")

	user, session, err := h.service.Register(r.Context(), username,
		r.Form.Get("password1"), r.Form.Get("password2"))
	if err != nil {
		var ferr service.FieldErrors
		if errors.As(err, &ferr) {
			h.renderer.Render(w, "register", web.View{
				Title: "Register",
				Data:  registerData{Username: username, Errors: ferr},
			})
			return
		}
		h.logger.Error("registration failed", zap.Error(err))
		web.SetFlash(w, "error", "An error occurred during registration. Please try again.")
		http.Redirect(w, r, "/register/", http.StatusSeeOther)
		return
	}

	auth.SetCookie(w, session, h.cookieSecure)
	web.SetFlash(w, "success", "Welcome, "+user.Username+"! Your account has been created.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type loginData struct {
	Username string
	Error    string
}

func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := auth.UserFromContext(r.Context()); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.renderer.Render(w, "login", web.View{
		Title: "Log in",
		Flash: web.PopFlash(w, r),
		Data:  loginData{},
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	username := r.Form.Get("username")

	user, session, err := h.service.Login(r.Context(), username, r.Form.Get("password"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.renderer.Render(w, "login", web.View{
				Title: "Log in",
				Data:  loginData{Username: username, Error: "Invalid username or password."},
			})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		web.SetFlash(w, "error", "An error occurred. Please try again.")
		http.Redirect(w, r, "/login/", http.StatusSeeOther)
		return
	}

	auth.SetCookie(w, session, h.cookieSecure)
	web.SetFlash(w, "success", "Welcome back, "+user.Username+"!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if token, ok := auth.TokenFromContext(r.Context()); ok {
		if err := h.service.Logout(r.Context(), token); err != nil {
			h.logger.Error("logout failed", zap.Error(err))
		}
	}
	auth.ClearCookie(w, h.cookieSecure)
	http.Redirect(w, r, "/login/", http.StatusSeeOther)
}
