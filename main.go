// pomt fills empty gettext translations using machine translation models,
// as a web service or from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/minios-linux/pomt/catalog"
	"github.com/minios-linux/pomt/config"
	"github.com/minios-linux/pomt/i18n"
	"github.com/minios-linux/pomt/langmeta"
	"github.com/minios-linux/pomt/mofile"
	po "github.com/minios-linux/pomt/pofile"
	"github.com/minios-linux/pomt/settings"
	"github.com/minios-linux/pomt/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	infoTag    = color.New(color.FgBlue).SprintFunc()
	successTag = color.New(color.FgGreen).SprintFunc()
	warnTag    = color.New(color.Bold, color.FgYellow).SprintFunc()
	errorTag   = color.New(color.FgRed).SprintFunc()
	heading    = color.New(color.Bold, color.FgCyan).SprintFunc()
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(color.Error, infoTag("[INFO]")+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(color.Error, successTag("[OK]")+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(color.Error, warnTag("[WARN]")+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(color.Error, errorTag("[ERROR]")+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Global flags
// ---------------------------------------------------------------------------

type globalFlags struct {
	configPath string
	envFile    string
}

var global globalFlags

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&global.configPath, "config", "", "Configuration file (default: "+config.DefaultFile+" if present)")
	fs.StringVar(&global.envFile, "env-file", config.DefaultEnvFile, "Environment file loaded before POMT_* variables are read")
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pomt",
		Short: "PO machine translation service",
		Long: `pomt: PO machine translation.

Uploads a gettext catalog, fills every empty translation with a machine
translation model and lets you review the result before downloading it as
.po or compiled .mo.

Commands:
  serve       Run the web service
  translate   Translate a PO file from the command line
  models      List the available language pairs
  compile     Compile a PO file into a binary MO catalog
  auth        Manage backend API tokens

Backends:
  huggingface    Hugging Face Inference API (opus-mt models)
  groq           Groq chat completions
  ollama         Local Ollama server
  custom-openai  Any OpenAI-compatible endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addGlobalFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newTranslateCmd(),
		newModelsCmd(),
		newCompileCmd(),
		newAuthCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	i18n.Init("")
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pomt version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}
}

// ---------------------------------------------------------------------------
// models
// ---------------------------------------------------------------------------

func newModelsCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the available language pairs",
		Long: `Print the language pairs offered by the service, in the order shown
in the web UI. The configured preferred pair comes first.

By default the model registry is queried; --offline lists the configured
pairs without network access.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if offline {
				cfg.Models.Discover = false
			}
			cat, err := buildCatalog(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printCatalog(cat)
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use the configured pairs instead of querying the registry")
	return cmd
}

func printCatalog(cat *catalog.Catalog) {
	descs := cat.Descriptors()
	width := 0
	for _, d := range descs {
		width = max(width, len(d.Code))
	}
	fmt.Fprintf(os.Stdout, "\n%s\n", heading(fmt.Sprintf("Available models (%d)", len(descs))))
	fmt.Fprintln(os.Stdout, strings.Repeat("─", 60))
	for _, d := range descs {
		fmt.Fprintf(os.Stdout, "  %s %-*s  %-32s %s\n",
			langCell(d.Target), width, d.Code, d.Label, color.HiBlackString(d.ModelID))
	}
	fmt.Fprintln(os.Stdout)
}

// langCell returns the flag of a language, padded so that languages without
// a flag keep the table aligned.
func langCell(lang string) string {
	if f := langmeta.Flag(lang); f != "" {
		return f
	}
	return "  "
}

// ---------------------------------------------------------------------------
// compile
// ---------------------------------------------------------------------------

func newCompileCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "compile FILE.po",
		Short: "Compile a PO file into a binary MO catalog",
		Long: `Compile a gettext PO file into the binary MO format read by gettext
at runtime. Fuzzy, obsolete and untranslated entries are left out.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := po.ParseFile(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = replaceExt(args[0], ".mo")
			}
			if err := mofile.WriteFile(f, output); err != nil {
				return err
			}
			_, translated, _, _ := f.Stats()
			logSuccess("%s: %d messages", output, translated)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: FILE.mo)")
	return cmd
}

// ---------------------------------------------------------------------------
// auth (set / remove / list)
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage backend API tokens",
		Long: `Manage API tokens for the translation backends.

Tokens are stored in ` + settings.FilePath() + `
with owner-only permissions. A token given with --api-key, POMT_API_KEY,
HF_TOKEN or the configuration file takes precedence.

Examples:
  pomt auth set huggingface hf_xxx
  pomt auth set custom-openai sk-xxx --base-url http://localhost:8080/v1
  pomt auth remove groq
  pomt auth list`,
	}

	cmd.AddCommand(
		newAuthSetCmd(),
		newAuthRemoveCmd(),
		newAuthListCmd(),
	)
	return cmd
}

func backendCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return []string{
		translate.BackendHuggingFace + "\tHugging Face Inference API",
		translate.BackendGroq + "\tGroq Cloud",
		translate.BackendOllama + "\tLocal Ollama server",
		translate.BackendCustomOpenAI + "\tCustom OpenAI-compatible endpoint",
	}, cobra.ShellCompDirectiveNoFileComp
}

func newAuthSetCmd() *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:               "set BACKEND TOKEN",
		Short:             "Store an API token",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: backendCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, key := args[0], strings.TrimSpace(args[1])
			if !translate.IsKnownBackend(id) {
				return fmt.Errorf("unknown backend %q", id)
			}
			if key == "" {
				return errors.New("token must not be empty")
			}
			var err error
			if baseURL != "" {
				err = settings.SetAPIKeyWithBaseURL(id, key, baseURL)
			} else {
				err = settings.SetAPIKey(id, key)
			}
			if err != nil {
				return err
			}
			logSuccess("Stored token for %s (%s)", id, settings.MaskKey(key))
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Endpoint stored with the token (custom-openai)")
	return cmd
}

func newAuthRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "remove BACKEND",
		Aliases:           []string{"rm"},
		Short:             "Remove a stored API token",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: backendCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if settings.Get(args[0]) == nil {
				logWarning("No token stored for %s", args[0])
				return nil
			}
			if err := settings.Remove(args[0]); err != nil {
				return err
			}
			logSuccess("Removed token for %s", args[0])
			return nil
		},
	}
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored tokens",
		Run: func(cmd *cobra.Command, args []string) {
			w := color.Error
			fmt.Fprintf(w, "\n%s\n", heading("Stored Credentials"))
			fmt.Fprintln(w, strings.Repeat("─", 60))

			store := settings.Load()
			for _, id := range []string{
				translate.BackendHuggingFace,
				translate.BackendGroq,
				translate.BackendOllama,
				translate.BackendCustomOpenAI,
			} {
				info := store[id]
				if info == nil || info.Key == "" {
					fmt.Fprintf(w, "  %-14s %s\n", id, color.RedString("not configured"))
					continue
				}
				fmt.Fprintf(w, "  %-14s %s (key: %s)\n", id, color.GreenString("configured"), settings.MaskKey(info.Key))
				if info.BaseURL != "" {
					fmt.Fprintf(w, "  %14s endpoint: %s\n", "", info.BaseURL)
				}
			}

			fmt.Fprintf(w, "\n  %s\n", warnTag("Environment Variables"))
			for _, name := range []string{"POMT_API_KEY", "HF_TOKEN"} {
				if v := os.Getenv(name); v != "" {
					fmt.Fprintf(w, "  %-14s %s (overrides stored keys)\n", name, color.GreenString(settings.MaskKey(v)))
				} else {
					fmt.Fprintf(w, "  %-14s %s\n", name, color.RedString("not set"))
				}
			}
			fmt.Fprintln(w)
		},
	}
}

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

// loadConfig reads and validates the configuration named by the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(global.configPath, global.envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the slog logger described by the configuration.
func newLogger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

// backendFor resolves the backend, taking the API key from the flag, the
// configuration or the credential store, in that order.
func backendFor(cfg *config.Config, flagKey string) translate.Backend {
	if flagKey != "" {
		cfg.Backend.APIKey = flagKey
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = settings.GetBaseURL(cfg.Backend.Type)
	}
	b := cfg.TranslateBackend(settings.GetAPIKey(cfg.Backend.Type))
	if b.APIKey == "" && b.ID == translate.BackendHuggingFace {
		logWarning("No Hugging Face token configured; anonymous requests are heavily rate limited")
	}
	return b
}

// buildCatalog queries the model registry, or uses the configured pairs when
// discovery is off.
func buildCatalog(ctx context.Context, cfg *config.Config) (*catalog.Catalog, error) {
	opts := cfg.CatalogOptions()
	if !cfg.Models.Discover {
		return catalog.Static(opts)
	}
	token := cfg.Backend.APIKey
	if token == "" {
		token = settings.GetAPIKey(translate.BackendHuggingFace)
	}
	hub := catalog.NewHubClient(cfg.Models.HubURL, token, cfg.Models.Timeout)
	return catalog.Build(ctx, hub, opts)
}

// replaceExt swaps the extension of path for ext.
func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
