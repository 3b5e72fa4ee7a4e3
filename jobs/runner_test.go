package jobs

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	po "github.com/minios-linux/pomt/pofile"
)

type fakeTranslator struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (f *fakeTranslator) Translate(_ context.Context, code, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	if err := f.fail[text]; err != nil {
		return "", err
	}
	return "<" + code + ">" + text, nil
}

func newTestRunner(t *testing.T, tr Translator) *Runner {
	t.Helper()
	ws := Workspace{Root: t.TempDir()}
	if err := ws.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return &Runner{Translator: tr, Workspace: ws, Store: NewProgressStore(ws)}
}

func submitUpload(t *testing.T, r *Runner, content string) Job {
	t.Helper()
	job := Job{ID: NewID(), Code: "en-hu", Target: "hu"}
	if err := r.Workspace.SaveUpload(job.ID, strings.NewReader(content)); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}
	return job
}

func readOutput(t *testing.T, r *Runner, id string) *po.File {
	t.Helper()
	f, err := po.ParseFile(r.Workspace.OutputPath(id))
	if err != nil {
		t.Fatalf("ParseFile output: %v", err)
	}
	return f
}

const translatedPO = `msgid ""
msgstr ""
"Language: hu\n"

msgid "Hello"
msgstr "Szia"

msgid "Bye"
msgstr "Viszlát"
`

func TestRunLeavesTranslatedCatalogUnchanged(t *testing.T) {
	tr := &fakeTranslator{}
	r := newTestRunner(t, tr)
	job := submitUpload(t, r, translatedPO)

	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("translator called for %v", tr.calls)
	}
	out := readOutput(t, r, job.ID)
	if out.EntryByMsgID("Hello").MsgStr != "Szia" || out.EntryByMsgID("Bye").MsgStr != "Viszlát" {
		t.Fatalf("targets changed: %+v", out.Entries)
	}
	p := r.Store.Read(job.ID)
	if !p.Finished || p.Done != p.Total || p.Total != 2 || p.State != StateFinished {
		t.Fatalf("progress = %+v", p)
	}
}

func TestRunFillsEmptyTarget(t *testing.T) {
	r := newTestRunner(t, &fakeTranslator{})
	job := submitUpload(t, r, "msgid \"Hello\"\nmsgstr \"\"\n")

	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := readOutput(t, r, job.ID)
	e := out.Entries[0]
	if e.MsgID != "Hello" || e.MsgStr != "<en-hu>Hello" {
		t.Fatalf("entry = %+v", e)
	}
	if out.HeaderField("Language") != "hu" || out.HeaderField("Plural-Forms") == "" {
		t.Fatalf("header = %q", out.Header.MsgStr)
	}
}

func TestRunWritesErrorMarkerAndContinues(t *testing.T) {
	tr := &fakeTranslator{fail: map[string]error{"Broken": errors.New("model exploded")}}
	r := newTestRunner(t, tr)
	job := submitUpload(t, r, "msgid \"Broken\"\nmsgstr \"\"\n\nmsgid \"Fine\"\nmsgstr \"\"\n")

	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := readOutput(t, r, job.ID)
	if got := out.EntryByMsgID("Broken").MsgStr; got != "[ERROR: model exploded]" {
		t.Fatalf("marker = %q", got)
	}
	if got := out.EntryByMsgID("Fine").MsgStr; got != "<en-hu>Fine" {
		t.Fatalf("Fine = %q", got)
	}
	p := r.Store.Read(job.ID)
	if !p.Finished || p.Done != 2 || p.Total != 2 || p.Error {
		t.Fatalf("progress = %+v", p)
	}
}

func TestRunCustomErrorMarker(t *testing.T) {
	r := newTestRunner(t, &fakeTranslator{fail: map[string]error{"x": errors.New("boom")}})
	r.ErrorMarker = "FIXME"
	job := submitUpload(t, r, "msgid \"x\"\nmsgstr \"\"\n")
	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := readOutput(t, r, job.ID).Entries[0].MsgStr; got != "FIXME" {
		t.Fatalf("marker = %q", got)
	}
}

func TestRunSkipsObsoleteAndFillsPluralForms(t *testing.T) {
	tr := &fakeTranslator{}
	r := newTestRunner(t, tr)
	job := submitUpload(t, r, `msgid ""
msgstr ""
"Plural-Forms: nplurals=3; plural=(n%10==1 && n%100!=11 ? 0 : 1);\n"

msgid "%d file"
msgid_plural "%d files"
msgstr[0] ""
msgstr[1] "kept"
msgstr[2] ""

#~ msgid "old"
#~ msgstr ""
`)
	if err := r.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := readOutput(t, r, job.ID)
	got := out.Entries[0].MsgStrPlural
	if got[0] != "<en-hu>%d file" || got[1] != "kept" || got[2] != "<en-hu>%d files" {
		t.Fatalf("plural forms = %v", got)
	}
	if out.Entries[1].MsgStr != "" {
		t.Fatal("obsolete entry was translated")
	}
	if len(tr.calls) != 2 {
		t.Fatalf("calls = %v", tr.calls)
	}
	if p := r.Store.Read(job.ID); p.Done != 2 || p.Total != 2 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestRunRecordsParseFailure(t *testing.T) {
	r := newTestRunner(t, &fakeTranslator{})
	job := submitUpload(t, r, "not a catalog\n")

	if err := r.Run(context.Background(), job); err == nil {
		t.Fatal("expected error")
	}
	p := r.Store.Read(job.ID)
	if !p.Error || p.State != StateFailed || p.Finished {
		t.Fatalf("progress = %+v", p)
	}
	if r.Workspace.HasOutput(job.ID) {
		t.Fatal("output written for failed job")
	}
}

func TestRunCanceledWritesNoOutput(t *testing.T) {
	r := newTestRunner(t, &fakeTranslator{})
	job := submitUpload(t, r, "msgid \"Hello\"\nmsgstr \"\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx, job); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	p := r.Store.Read(job.ID)
	if p.State != StateCanceled || !p.Error || p.Finished {
		t.Fatalf("progress = %+v", p)
	}
	if _, err := os.Stat(r.Workspace.OutputPath(job.ID)); !os.IsNotExist(err) {
		t.Fatalf("output exists after cancel: %v", err)
	}
}

func TestTranslateCatalogReportsEveryEntry(t *testing.T) {
	r := &Runner{Translator: &fakeTranslator{}}
	f := po.NewFile()
	f.Entries = []*po.Entry{{MsgID: "a"}, {MsgID: "b", MsgStr: "B"}, {MsgID: ""}}

	var seen []int
	res, err := r.TranslateCatalog(context.Background(), f, "en-hu", "hu", func(done, total int) error {
		if total != 3 {
			t.Fatalf("total = %d", total)
		}
		seen = append(seen, done)
		return nil
	})
	if err != nil {
		t.Fatalf("TranslateCatalog: %v", err)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Fatalf("reports = %v", seen)
	}
	if res.Translated != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}
}
