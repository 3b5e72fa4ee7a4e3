package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/minios-linux/pomt/catalog"
	"github.com/minios-linux/pomt/i18n"
	"github.com/minios-linux/pomt/jobs"
	"github.com/minios-linux/pomt/langmeta"
	"github.com/minios-linux/pomt/mofile"
	po "github.com/minios-linux/pomt/pofile"
	"github.com/minios-linux/pomt/translate"
)

// ---------------------------------------------------------------------------
// translate (one catalog, synchronously)
// ---------------------------------------------------------------------------

type translateArgs struct {
	input, output string
	pair          string
	compileMO     bool
	apiKey        string
	backend       string
	model         string
	marker        string
	dryRun        bool
}

func newTranslateCmd() *cobra.Command {
	var a translateArgs

	cmd := &cobra.Command{
		Use:   "translate FILE.po",
		Short: "Translate a PO file from the command line",
		Long: `Translate the empty entries of one PO file with the same runner the web
service uses, showing a progress bar. Entries that fail are marked with the
error marker and the run continues. Interrupting with Ctrl+C saves the
partial result.

Examples:
  pomt translate messages.po --lang en-hu
  pomt translate messages.po --lang en-de -o de.po --mo
  pomt translate messages.po --lang en-fr --backend ollama --model llama3.1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.input = args[0]
			return runTranslate(a)
		},
	}

	cmd.Flags().StringVar(&a.pair, "lang", "", "Language pair code, e.g. en-hu (default: models.preferred)")
	cmd.Flags().StringVarP(&a.output, "output", "o", "", "Output file (default: FILE_translated.po)")
	cmd.Flags().BoolVar(&a.compileMO, "mo", false, "Also write a compiled .mo next to the output")
	cmd.Flags().StringVar(&a.apiKey, "api-key", "", "Backend API token (or POMT_API_KEY / HF_TOKEN)")
	cmd.Flags().StringVar(&a.backend, "backend", "", "Backend: huggingface, groq, ollama, custom-openai")
	cmd.Flags().StringVar(&a.model, "model", "", "Chat model name for chat backends")
	cmd.Flags().StringVar(&a.marker, "error-marker", "", "Text written into entries that fail (%s = error)")
	cmd.Flags().BoolVar(&a.dryRun, "dry-run", false, "Show what would be translated without calling a backend")

	_ = cmd.RegisterFlagCompletionFunc("backend", backendCompletion)

	return cmd
}

func runTranslate(a translateArgs) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Backend.Type = a.backend
		if !translate.IsKnownBackend(a.backend) {
			return fmt.Errorf("unknown backend %q", a.backend)
		}
	}
	if a.model != "" {
		cfg.Backend.Model = a.model
	}
	if a.marker != "" {
		cfg.Jobs.ErrorMarker = a.marker
	}
	if a.pair == "" {
		a.pair = cfg.Models.Preferred
	}
	if a.output == "" {
		a.output = strings.TrimSuffix(a.input, ".po") + "_translated.po"
	}

	// The pair is named explicitly, so no registry lookup is needed.
	opts := cfg.CatalogOptions()
	opts.Pairs = []string{a.pair}
	cat, err := catalog.Static(opts)
	if err != nil {
		return fmt.Errorf("invalid language pair %q", a.pair)
	}
	desc := cat.Descriptors()[0]

	f, err := po.ParseFile(a.input)
	if err != nil {
		return err
	}
	jobs.PrepareHeader(f, desc.Target)

	nplurals := f.NPlurals(desc.Target)
	pending := 0
	for _, e := range f.Entries {
		if e.NeedsTranslation(nplurals) {
			pending++
		}
	}
	logInfo("%s: %s %s, %d of %d entries to translate",
		a.input, langmeta.Flag(desc.Target), desc.Label, pending, len(f.Entries))

	if a.dryRun {
		return nil
	}
	if pending == 0 {
		logSuccess("Nothing to translate")
		return writeOutputs(f, a)
	}

	logger := newLogger(cfg)
	svc, err := translate.NewService(cat, backendFor(cfg, a.apiKey), translate.ServiceOptions{
		CacheSize:     1,
		MaxInputRunes: cfg.Models.MaxInputRunes,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &jobs.Runner{
		Translator:   svc,
		ErrorMarker:  cfg.Jobs.ErrorMarker,
		EntryTimeout: cfg.Models.Timeout,
		Logger:       logger,
	}
	res, err := runner.TranslateCatalog(ctx, f, desc.Code, desc.Target, func(done, total int) error {
		drawProgress(color.Error, done, total)
		return nil
	})
	fmt.Fprintln(color.Error)

	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		logWarning("Translation interrupted, partial progress saved")
	}
	if werr := writeOutputs(f, a); werr != nil {
		return werr
	}

	logInfo(i18n.T("Translated %d of %d entries"), res.Translated, pending)
	if res.Failed > 0 {
		logWarning("%d entries failed and were marked", res.Failed)
	}
	if err == nil {
		logSuccess("%s", i18n.T("Translation finished"))
	}
	return nil
}

func writeOutputs(f *po.File, a translateArgs) error {
	if err := f.WriteFile(a.output); err != nil {
		return err
	}
	logSuccess("Wrote %s", a.output)
	if !a.compileMO {
		return nil
	}
	moPath := replaceExt(a.output, ".mo")
	if err := mofile.WriteFile(f, moPath); err != nil {
		return err
	}
	logSuccess("Wrote %s", moPath)
	return nil
}

// drawProgress redraws a one-line progress bar in place.
func drawProgress(w io.Writer, done, total int) {
	percent := 100
	if total > 0 {
		percent = done * 100 / total
	}
	fmt.Fprintf(w, "\r  %s %d/%d", progressBar(percent, 30), done, total)
}

// progressBar renders a bar of the given width colored by completion.
func progressBar(percent, width int) string {
	percent = max(0, min(percent, 100))
	filled := percent * width / 100

	c := color.New(color.FgRed)
	switch {
	case percent >= 100:
		c = color.New(color.FgGreen)
	case percent >= 50:
		c = color.New(color.FgYellow)
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return c.Sprint(bar) + fmt.Sprintf(" %3d%%", percent)
}
