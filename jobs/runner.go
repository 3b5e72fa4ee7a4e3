package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	po "github.com/minios-linux/pomt/pofile"
)

// DefaultErrorMarker is written into entries whose translation failed.
const DefaultErrorMarker = "[ERROR: %s]"

// Translator translates one string for a language pair.
type Translator interface {
	Translate(ctx context.Context, code, text string) (string, error)
}

// Job describes one catalog translation request.
type Job struct {
	ID string `json:"id"`
	// Code is the pair code, e.g. "en-hu".
	Code string `json:"code"`
	// Target is the target language tag written into the output header.
	Target string `json:"target"`
}

// Result summarises a catalog walk.
type Result struct {
	Total      int
	Translated int
	Failed     int
}

// Runner walks a catalog and fills empty targets one entry at a time.
type Runner struct {
	Translator Translator
	Workspace  Workspace
	Store      *ProgressStore
	// ErrorMarker is a format with one %s for the error text.
	ErrorMarker string
	// EntryTimeout bounds each translation call (0 = no limit).
	EntryTimeout time.Duration
	Logger       *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) marker(err error) string {
	m := r.ErrorMarker
	if m == "" {
		m = DefaultErrorMarker
	}
	if !strings.Contains(m, "%s") {
		return m
	}
	return fmt.Sprintf(m, err.Error())
}

// TranslateCatalog fills the empty targets of f in file order. report is
// called after every entry, translated or not; a report error aborts the
// walk. Translation failures are recorded as error markers and do not stop
// the walk. Cancellation is checked between entries.
func (r *Runner) TranslateCatalog(ctx context.Context, f *po.File, code, target string, report func(done, total int) error) (Result, error) {
	res := Result{Total: len(f.Entries)}
	nplurals := f.NPlurals(target)

	for i, e := range f.Entries {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if e.NeedsTranslation(nplurals) {
			failed, err := r.translateEntry(ctx, e, code, nplurals)
			if err != nil {
				return res, err
			}
			if failed {
				res.Failed++
			} else {
				res.Translated++
			}
		}

		if report != nil {
			if err := report(i+1, res.Total); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

// translateEntry fills one entry. It returns an error only on cancellation.
func (r *Runner) translateEntry(ctx context.Context, e *po.Entry, code string, nplurals int) (failed bool, err error) {
	if !e.IsPlural() {
		out, err := r.translate(ctx, code, e.MsgID)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			r.logger().Warn("entry translation failed", "code", code, "msgid", e.MsgID, "error", err)
			e.MsgStr = r.marker(err)
			return true, nil
		}
		e.MsgStr = out
		return false, nil
	}

	if e.MsgStrPlural == nil {
		e.MsgStrPlural = make(map[int]string)
	}
	for _, idx := range e.EmptyPluralForms(nplurals) {
		src := e.MsgIDPlural
		if idx == 0 {
			src = e.MsgID
		}
		out, err := r.translate(ctx, code, src)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			r.logger().Warn("entry translation failed", "code", code, "msgid", src, "form", idx, "error", err)
			e.MsgStrPlural[idx] = r.marker(err)
			failed = true
			continue
		}
		e.MsgStrPlural[idx] = out
	}
	return failed, nil
}

func (r *Runner) translate(ctx context.Context, code, text string) (string, error) {
	if r.EntryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.EntryTimeout)
		defer cancel()
	}
	return r.Translator.Translate(ctx, code, text)
}

// PrepareHeader stamps the target language into the catalog header.
func PrepareHeader(f *po.File, target string) {
	f.SetHeaderField("Language", target)
	if f.HeaderField("Plural-Forms") == "" {
		f.SetHeaderField("Plural-Forms", po.PluralFormsForLang(target))
	}
	f.SetHeaderField("Content-Type", "text/plain; charset=UTF-8")
}

// Run executes job against the workspace: it reads the upload, translates,
// writes the output atomically and keeps the progress record current. Every
// run that is not canceled ends with done == total.
func (r *Runner) Run(ctx context.Context, job Job) error {
	log := r.logger().With("job", job.ID, "code", job.Code)

	f, err := po.ParseFile(r.Workspace.UploadPath(job.ID))
	if err != nil {
		log.Error("parsing upload", "error", err)
		r.write(job.ID, Progress{Total: 1, Error: true, State: StateFailed, Message: err.Error()})
		return fmt.Errorf("parsing upload: %w", err)
	}

	total := len(f.Entries)
	if err := r.Store.Write(job.ID, Progress{Total: total, State: StateRunning}); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	log.Info("job started", "entries", total)

	res, err := r.TranslateCatalog(ctx, f, job.Code, job.Target, func(done, total int) error {
		return r.Store.Write(job.ID, Progress{Total: total, Done: done, State: StateRunning})
	})
	if err != nil {
		done := r.Store.Read(job.ID).Done
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("job canceled", "done", done, "total", total)
			r.write(job.ID, Progress{Total: total, Done: done, Error: true, State: StateCanceled, Message: "canceled"})
			return err
		}
		log.Error("job failed", "error", err)
		r.write(job.ID, Progress{Total: total, Done: done, Error: true, State: StateFailed, Message: err.Error()})
		return err
	}

	PrepareHeader(f, job.Target)
	if err := f.WriteFile(r.Workspace.OutputPath(job.ID)); err != nil {
		log.Error("writing output", "error", err)
		r.write(job.ID, Progress{Total: total, Done: total, Error: true, State: StateFailed, Message: err.Error()})
		return fmt.Errorf("writing output: %w", err)
	}

	msg := fmt.Sprintf("%d translated, %d failed", res.Translated, res.Failed)
	log.Info("job finished", "translated", res.Translated, "failed", res.Failed)
	return r.Store.Write(job.ID, Progress{Total: total, Done: total, Finished: true, State: StateFinished, Message: msg})
}

func (r *Runner) write(id string, p Progress) {
	if err := r.Store.Write(id, p); err != nil {
		r.logger().Error("writing progress", "job", id, "error", err)
	}
}
