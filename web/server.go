// Package web serves the upload, progress, edit and download pages.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/minios-linux/pomt/catalog"
	"github.com/minios-linux/pomt/i18n"
	"github.com/minios-linux/pomt/jobs"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// DefaultMaxUpload is the upload size limit when none is configured.
const DefaultMaxUpload = 10 << 20

// Options wires the server to the rest of the application.
type Options struct {
	Catalog   *catalog.Catalog
	Manager   *jobs.Manager
	Workspace jobs.Workspace
	Store     *jobs.ProgressStore
	Bundle    *i18n.Bundle
	// MaxUpload bounds the request body of an upload in bytes.
	MaxUpload int64
	// ErrorMarker is the runner's marker format, used to highlight failed
	// entries in the editor.
	ErrorMarker string
	Logger      *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	opts      Options
	logger    *slog.Logger
	templates *template.Template
}

// New parses the embedded templates and returns a server.
func New(opts Options) (*Server, error) {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	if opts.Bundle == nil {
		opts.Bundle = i18n.NewBundle("")
	}
	if opts.Store == nil {
		opts.Store = jobs.NewProgressStore(opts.Workspace)
	}
	if opts.ErrorMarker == "" {
		opts.ErrorMarker = jobs.DefaultErrorMarker
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tmpl, err := template.New("").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{opts: opts, logger: logger, templates: tmpl}, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/", s.handleUpload)
	r.Get("/progress/{id}", s.handleProgress)
	r.Get("/edit/{id}", s.handleEdit)
	r.Post("/edit/{id}", s.handleSaveEdit)
	r.Get("/download/{id}", s.handleDownload)
	r.Get("/download_mo/{id}", s.handleDownloadMO)
	r.Post("/cancel/{id}", s.handleCancel)

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Get("/jobs", s.handleJobs)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	return r
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
