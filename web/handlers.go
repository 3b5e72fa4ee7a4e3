package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/minios-linux/pomt/catalog"
	"github.com/minios-linux/pomt/i18n"
	"github.com/minios-linux/pomt/jobs"
	"github.com/minios-linux/pomt/mofile"
	po "github.com/minios-linux/pomt/pofile"
)

// page carries what every template needs.
type page struct {
	L *i18n.Locale
}

type indexPage struct {
	page
	Models      []catalog.Descriptor
	MaxUploadMB int64
}

type progressPage struct {
	page
	ID    string
	Label string
}

type editPage struct {
	page
	ID           string
	Entries      []editEntry
	Total        int
	Translated   int
	Fuzzy        int
	Untranslated int
}

type editEntry struct {
	Index        int
	Key          string
	Context      string
	Source       string
	SourcePlural string
	Target       string
	Forms        []pluralForm
	Comments     []string
	Fuzzy        bool
	Failed       bool
}

type pluralForm struct {
	N      int
	Value  string
	Failed bool
}

func (s *Server) page(r *http.Request) page {
	return page{L: s.opts.Bundle.Match(r.Header.Get("Accept-Language"))}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		s.logger.Error("rendering template", "template", name, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// jobID returns the validated {id} URL parameter, writing 404 when it is
// malformed.
func jobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !jobs.ValidID(id) {
		http.NotFound(w, r)
		return "", false
	}
	return id, true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index.html", indexPage{
		page:        s.page(r),
		Models:      s.opts.Catalog.Descriptors(),
		MaxUploadMB: s.opts.MaxUpload >> 20,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	l := s.page(r).L
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
	if err := r.ParseMultipartForm(s.opts.MaxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			http.Error(w, l.Get("File is too large."), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, l.Get("No file uploaded."), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("po_file")
	if err != nil {
		http.Error(w, l.Get("No file uploaded."), http.StatusBadRequest)
		return
	}
	defer file.Close()

	if !strings.HasSuffix(header.Filename, ".po") {
		http.Error(w, l.Get("Only .po files are accepted."), http.StatusBadRequest)
		return
	}
	d, err := s.opts.Catalog.Lookup(r.FormValue("lang"))
	if err != nil {
		http.Error(w, l.Get("Unknown language pair."), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, l.Get("No file uploaded."), http.StatusBadRequest)
		return
	}
	if _, err := po.Parse(bytes.NewReader(data)); err != nil {
		http.Error(w, l.Get("The file is not a valid PO catalog: %s", err.Error()), http.StatusBadRequest)
		return
	}

	id := jobs.NewID()
	if err := s.opts.Workspace.SaveUpload(id, bytes.NewReader(data)); err != nil {
		s.logger.Error("saving upload", "job", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	job := jobs.Job{ID: id, Code: d.Code, Target: d.Target}
	if _, err := s.opts.Manager.Submit(job); err != nil {
		os.Remove(s.opts.Workspace.UploadPath(id))
		if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrClosed) {
			w.Header().Set("Retry-After", "30")
			http.Error(w, l.Get("The server is busy, please try again later."), http.StatusServiceUnavailable)
			return
		}
		s.logger.Error("submitting job", "job", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.logger.Info("upload accepted", "job", id, "code", d.Code, "file", header.Filename, "bytes", len(data))

	if wantsJSON(r) {
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id":          id,
			"code":            d.Code,
			"progress_url":    "/progress/" + id,
			"edit_url":        "/edit/" + id,
			"download_url":    "/download/" + id,
			"download_mo_url": "/download_mo/" + id,
		})
		return
	}
	s.render(w, r, http.StatusOK, "progress.html", progressPage{page: s.page(r), ID: id, Label: d.Label})
}

// handleProgress never fails: unknown or malformed IDs get the default
// record, which the store returns without touching the filesystem.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.opts.Store.Read(chi.URLParam(r, "id")))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if err := s.opts.Manager.Cancel(id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h, err := s.opts.Manager.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h)
}

// loadOutput parses the translated catalog, writing 404 when it is absent.
// ready reports whether the job's output may be served. The output is
// written just before the finished record, so both are required.
func (s *Server) ready(id string) bool {
	return s.opts.Store.Read(id).Finished && s.opts.Workspace.HasOutput(id)
}

func (s *Server) loadOutput(w http.ResponseWriter, r *http.Request) (string, *po.File, bool) {
	id, ok := jobID(w, r)
	if !ok {
		return "", nil, false
	}
	if !s.ready(id) {
		http.NotFound(w, r)
		return "", nil, false
	}
	f, err := po.ParseFile(s.opts.Workspace.OutputPath(id))
	if err != nil {
		s.logger.Error("parsing output", "job", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return "", nil, false
	}
	return id, f, true
}

func (s *Server) markerPrefix() string {
	m := s.opts.ErrorMarker
	if i := strings.Index(m, "%s"); i >= 0 {
		m = m[:i]
	}
	return m
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, f, ok := s.loadOutput(w, r)
	if !ok {
		return
	}

	prefix := s.markerPrefix()
	failed := func(v string) bool { return prefix != "" && strings.HasPrefix(v, prefix) }
	nplurals := f.NPlurals(f.HeaderField("Language"))

	data := editPage{page: s.page(r), ID: id}
	data.Total, data.Translated, data.Fuzzy, data.Untranslated = f.Stats()
	for i, e := range f.Entries {
		if e.Obsolete || e.MsgID == "" {
			continue
		}
		ee := editEntry{
			Index:        i,
			Key:          e.Key(),
			Context:      e.MsgCtxt,
			Source:       e.MsgID,
			SourcePlural: e.MsgIDPlural,
			Target:       e.MsgStr,
			Comments:     append(append([]string(nil), e.ExtractedComments...), e.TranslatorComments...),
			Fuzzy:        e.IsFuzzy(),
			Failed:       failed(e.MsgStr),
		}
		if e.IsPlural() {
			for n := 0; n < max(nplurals, len(e.MsgStrPlural)); n++ {
				v := e.MsgStrPlural[n]
				ee.Forms = append(ee.Forms, pluralForm{N: n, Value: v, Failed: failed(v)})
				ee.Failed = ee.Failed || failed(v)
			}
		}
		data.Entries = append(data.Entries, ee)
	}
	s.render(w, r, http.StatusOK, "edit.html", data)
}

// handleSaveEdit applies submitted targets. Entries are addressed by their
// position plus a content key so that duplicate msgids are unambiguous and a
// stale form cannot overwrite the wrong entry.
func (s *Server) handleSaveEdit(w http.ResponseWriter, r *http.Request) {
	id, f, ok := s.loadOutput(w, r)
	if !ok {
		return
	}
	l := s.page(r).L
	r.Body = http.MaxBytesReader(w, r.Body, 4*s.opts.MaxUpload)
	if err := r.ParseForm(); err != nil {
		http.Error(w, l.Get("Invalid form."), http.StatusBadRequest)
		return
	}

	var edited []int
	for name, vals := range r.PostForm {
		if !strings.HasPrefix(name, "key_") || len(vals) == 0 {
			continue
		}
		i, err := strconv.Atoi(strings.TrimPrefix(name, "key_"))
		if err != nil || i < 0 || i >= len(f.Entries) || f.Entries[i].Key() != vals[0] {
			http.Error(w, l.Get("The catalog changed since the form was loaded."), http.StatusConflict)
			return
		}
		edited = append(edited, i)
	}

	for _, i := range edited {
		e := f.Entries[i]
		if !e.IsPlural() {
			if v, ok := formValue(r, fmt.Sprintf("msgstr_%d", i)); ok {
				e.MsgStr = v
			}
			continue
		}
		if e.MsgStrPlural == nil {
			e.MsgStrPlural = make(map[int]string)
		}
		for n := 0; ; n++ {
			v, ok := formValue(r, fmt.Sprintf("msgstr_%d_%d", i, n))
			if !ok {
				break
			}
			e.MsgStrPlural[n] = v
		}
	}

	if err := f.WriteFile(s.opts.Workspace.OutputPath(id)); err != nil {
		s.logger.Error("writing edits", "job", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	os.Remove(s.opts.Workspace.MOPath(id))
	s.logger.Info("edits saved", "job", id, "entries", len(edited))
	http.Redirect(w, r, "/download/"+id, http.StatusSeeOther)
}

// formValue returns a posted value with browser CRLF line endings undone.
func formValue(r *http.Request, name string) (string, bool) {
	vals, ok := r.PostForm[name]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return strings.ReplaceAll(vals[0], "\r\n", "\n"), true
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if !s.ready(id) {
		http.NotFound(w, r)
		return
	}
	serveAttachment(w, r, s.opts.Workspace.OutputPath(id), "translated.po", "text/x-gettext-translation; charset=utf-8")
}

func (s *Server) handleDownloadMO(w http.ResponseWriter, r *http.Request) {
	id, f, ok := s.loadOutput(w, r)
	if !ok {
		return
	}
	path := s.opts.Workspace.MOPath(id)
	if err := mofile.WriteFile(f, path); err != nil {
		s.logger.Error("compiling mo", "job", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	serveAttachment(w, r, path, "translated.mo", "application/octet-stream")
}

func serveAttachment(w http.ResponseWriter, r *http.Request, path, name, contentType string) {
	fh, err := os.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer fh.Close()
	info, err := fh.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), fh)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Catalog.Descriptors())
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Manager.List())
}
