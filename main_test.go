package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/leonelquinteros/gotext"

	po "github.com/minios-linux/pomt/pofile"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		name    string
		percent int
		width   int
		want    string
	}{
		{name: "clamps below zero", percent: -10, width: 4, want: "░░░░   0%"},
		{name: "mid range", percent: 50, width: 4, want: "██░░  50%"},
		{name: "clamps above hundred", percent: 120, width: 4, want: "████ 100%"},
	}

	for _, tc := range tests {
		if got := progressBar(tc.percent, tc.width); got != tc.want {
			t.Fatalf("%s: progressBar() = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDrawProgress(t *testing.T) {
	var buf bytes.Buffer
	drawProgress(&buf, 3, 4)
	if got := buf.String(); !strings.HasPrefix(got, "\r") || !strings.HasSuffix(got, " 3/4") || !strings.Contains(got, "75%") {
		t.Fatalf("drawProgress = %q", got)
	}
}

func TestReplaceExt(t *testing.T) {
	if got := replaceExt("po/hu.po", ".mo"); got != "po/hu.mo" {
		t.Fatalf("replaceExt = %q", got)
	}
	if got := replaceExt("noext", ".mo"); got != "noext.mo" {
		t.Fatalf("replaceExt(noext) = %q", got)
	}
}

func TestLangCell(t *testing.T) {
	if got := langCell("hu"); got != "🇭🇺" {
		t.Fatalf("langCell(hu) = %q", got)
	}
}

func executeCLI(t *testing.T, args ...string) error {
	t.Helper()
	global = globalFlags{}
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.Execute()
}

func TestCompileCommandWritesReadableMO(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := filepath.Join(dir, "hu.po")
	content := "msgid \"\"\nmsgstr \"\"\n\"Language: hu\\n\"\n\"Content-Type: text/plain; charset=UTF-8\\n\"\n\n" +
		"msgid \"Open\"\nmsgstr \"Megnyitás\"\n"
	if err := os.WriteFile(in, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := executeCLI(t, "compile", in); err != nil {
		t.Fatalf("compile: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "hu.mo"))
	if err != nil {
		t.Fatalf("reading mo: %v", err)
	}
	mo := gotext.NewMo()
	mo.Parse(data)
	if got := mo.Get("Open"); got != "Megnyitás" {
		t.Fatalf("mo Get(Open) = %q", got)
	}
}

func TestTranslateDryRunLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := filepath.Join(dir, "app.po")
	if err := os.WriteFile(in, []byte("msgid \"Hello\"\nmsgstr \"\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := executeCLI(t, "translate", in, "--lang", "en-hu", "--dry-run"); err != nil {
		t.Fatalf("translate --dry-run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "app_translated.po")); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote output: %v", err)
	}
}

func TestTranslateNothingPendingCopiesCatalog(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := filepath.Join(dir, "app.po")
	if err := os.WriteFile(in, []byte("msgid \"Hello\"\nmsgstr \"Szia\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := executeCLI(t, "translate", in, "--lang", "en-hu", "--mo"); err != nil {
		t.Fatalf("translate: %v", err)
	}
	out, err := po.ParseFile(filepath.Join(dir, "app_translated.po"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if out.HeaderField("Language") != "hu" || out.EntryByMsgID("Hello").MsgStr != "Szia" {
		t.Fatalf("output header=%q entries=%#v", out.HeaderField("Language"), out.Entries)
	}
	if _, err := os.Stat(filepath.Join(dir, "app_translated.mo")); err != nil {
		t.Fatalf("mo not written: %v", err)
	}
}

func TestTranslateRejectsBadPair(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	in := filepath.Join(dir, "app.po")
	os.WriteFile(in, []byte("msgid \"Hello\"\nmsgstr \"\"\n"), 0o644)

	err := executeCLI(t, "translate", in, "--lang", "nonsense")
	if err == nil || !strings.Contains(err.Error(), "invalid language pair") {
		t.Fatalf("err = %v, want invalid language pair", err)
	}
}

func TestAuthSetListRemove(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	if err := executeCLI(t, "auth", "set", "groq", "gsk_0123456789"); err != nil {
		t.Fatalf("auth set: %v", err)
	}
	if err := executeCLI(t, "auth", "set", "deepl", "x"); err == nil {
		t.Fatal("auth set accepted an unknown backend")
	}
	if err := executeCLI(t, "auth", "list"); err != nil {
		t.Fatalf("auth list: %v", err)
	}
	if err := executeCLI(t, "auth", "remove", "groq"); err != nil {
		t.Fatalf("auth remove: %v", err)
	}
}

func TestModelsOfflineUsesConfiguredPairs(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	os.WriteFile(filepath.Join(dir, "pomt.yaml"), []byte("models:\n  pairs: [en-de, en-hu]\n"), 0o644)
	global = globalFlags{}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	cfg.Models.Discover = false
	cat, err := buildCatalog(t.Context(), cfg)
	if err != nil {
		t.Fatalf("buildCatalog: %v", err)
	}
	if got := cat.Codes(); len(got) != 2 || got[0] != "en-hu" {
		t.Fatalf("Codes = %v, want en-hu first", got)
	}
}
