package web

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nsmelkov/todo-app/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

// View - общая обёртка данных для всех страниц.
type View struct {
	Title string
	User  *model.User
	Flash *Flash
	Data  any
}

type Renderer struct {
	pages  map[string]*template.Template
	logger *zap.Logger
}

func NewRenderer(logger *zap.Logger) (*Renderer, error) {
	funcs := template.FuncMap{
		"splitTags": func(tags string) []string {
			var out []string
			for _, t := range strings.Split(tags, ",") {
				if t = strings.TrimSpace(t); t != "" {
					out = append(out, t)
				}
			}
			return out
		},
		"priorityClass": func(p model.Priority) string {
			return "priority-" + string(p)
		},
		"byPriority": func(s model.Stats, p string) int {
			return s.ByPriority[model.Priority(p)]
		},
		// jsonData отдаёт данные графиков странице; json.Marshal экранирует
		// <, > и &, поэтому внутри script-блока это безопасно.
		"jsonData": func(v any) (template.JS, error) {
			b, err := json.Marshal(v)
			return template.JS(b), err
		},
		"pages": func(n int) []int {
			out := make([]int, n)
			for i := range out {
				out[i] = i + 1
			}
			return out
		},
	}

	names := []string{"list", "form", "login", "register", "import"}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		tpl, err := template.New("layout.html").Funcs(funcs).ParseFS(
			templatesFS, "templates/layout.html", "templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = tpl
	}

	return &Renderer{pages: pages, logger: logger}, nil
}

func (r *Renderer) Render(w http.ResponseWriter, name string, view View) {
	tpl, ok := r.pages[name]
	if !ok {
		r.logger.Error("unknown template", zap.String("name", name))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tpl.ExecuteTemplate(w, "layout.html", view); err != nil {
		r.logger.Error("render failed", zap.String("name", name), zap.Error(err))
	}
}
