// Package translate turns one source string into its translation using an
// external inference backend: the Hugging Face inference API serving MarianMT
// models, or any OpenAI-compatible chat endpoint (Groq, Ollama, custom).
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/minios-linux/pomt/catalog"
	"github.com/minios-linux/pomt/modelcache"
)

// ---------------------------------------------------------------------------
// Backend IDs
// ---------------------------------------------------------------------------

const (
	BackendHuggingFace  = "huggingface"
	BackendGroq         = "groq"
	BackendOllama       = "ollama"
	BackendCustomOpenAI = "custom-openai"
)

// Translator translates text for a single language pair.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// ---------------------------------------------------------------------------
// Backend configuration
// ---------------------------------------------------------------------------

// Backend holds the configuration for an inference service.
type Backend struct {
	// ID is the backend identifier (huggingface, groq, ollama, custom-openai).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the bearer token (empty for local services).
	APIKey string
	// Model is the chat model for OpenAI-compatible backends. The
	// huggingface backend uses the catalog's model ID instead.
	Model string
	// SystemPrompt overrides DefaultSystemPrompt for chat backends.
	SystemPrompt string
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string
	// Timeout is the per-request timeout.
	Timeout time.Duration
	// MaxRetries is the number of retries on 429, 503, 5xx and network errors.
	MaxRetries int
	// RetryWait is the base delay of the exponential backoff.
	RetryWait time.Duration
	// MaxRetryWait caps any single wait, including server-suggested ones.
	MaxRetryWait time.Duration
}

// DefaultBackends returns the pre-configured backend definitions.
func DefaultBackends() map[string]Backend {
	return map[string]Backend{
		BackendHuggingFace: {
			ID:      BackendHuggingFace,
			Name:    "Hugging Face Inference API",
			BaseURL: "https://api-inference.huggingface.co",
			Timeout: 120 * time.Second,
		},
		BackendGroq: {
			ID:      BackendGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.3-70b-versatile",
			Timeout: 60 * time.Second,
		},
		BackendOllama: {
			ID:      BackendOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Model:   "llama3.1",
			Timeout: 120 * time.Second,
		},
		BackendCustomOpenAI: {
			ID:      BackendCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
	}
}

// IsKnownBackend reports whether id names a supported backend.
func IsKnownBackend(id string) bool {
	_, ok := DefaultBackends()[id]
	return ok
}

func (b *Backend) effectiveTimeout() time.Duration {
	if b.Timeout > 0 {
		return b.Timeout
	}
	return 120 * time.Second
}

func (b *Backend) effectiveMaxRetries() int {
	if b.MaxRetries > 0 {
		return b.MaxRetries
	}
	return 3
}

func (b *Backend) effectiveRetryWait() time.Duration {
	if b.RetryWait > 0 {
		return b.RetryWait
	}
	return time.Second
}

func (b *Backend) effectiveMaxRetryWait() time.Duration {
	if b.MaxRetryWait > 0 {
		return b.MaxRetryWait
	}
	return 65 * time.Second
}

// backoff returns RetryWait * 2^attempt, capped.
func (b *Backend) backoff(attempt int) time.Duration {
	wait := b.effectiveRetryWait() << attempt
	return min(wait, b.effectiveMaxRetryWait())
}

// ---------------------------------------------------------------------------
// Rate limit state (shared pause for concurrent jobs on one backend)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseEnd = time.Now().Add(duration)
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		if err := sleep(ctx, min(remaining, 100*time.Millisecond)); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func newClient(b Backend) *resty.Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(b.BaseURL, "/")).
		SetTimeout(b.effectiveTimeout()).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if b.Proxy != "" {
		client.SetProxy(b.Proxy)
	}
	if b.APIKey != "" {
		client.SetAuthToken(b.APIKey)
	}
	return client
}

// Open materialises a translator for one catalog pair.
func Open(b Backend, d catalog.Descriptor) (Translator, error) {
	return open(b, d, &rateLimitState{})
}

func open(b Backend, d catalog.Descriptor, rl *rateLimitState) (Translator, error) {
	if b.BaseURL == "" {
		return nil, fmt.Errorf("backend %q: base URL not configured", b.ID)
	}
	switch b.ID {
	case BackendHuggingFace:
		return &huggingFace{backend: b, model: d.ModelID, client: newClient(b), rl: rl}, nil
	case BackendGroq, BackendOllama, BackendCustomOpenAI:
		if b.Model == "" {
			return nil, fmt.Errorf("backend %q: model not configured", b.ID)
		}
		return newChat(b, d, rl), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", b.ID)
	}
}

// send performs a request with retries on network errors, 429, 503 and other
// 5xx statuses, then hands a 200 body to parse.
func send(ctx context.Context, b Backend, rl *rateLimitState, do func() (*resty.Response, error), parse func([]byte) (string, error)) (string, error) {
	maxRetries := b.effectiveMaxRetries()

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Wait if another job on this backend got rate limited
		if rl != nil {
			if err := rl.waitIfPaused(ctx); err != nil {
				return "", err
			}
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := do()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if attempt < maxRetries {
				if err := sleep(ctx, b.backoff(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("%s request failed: %w", b.ID, err)
		}

		body := resp.Body()
		switch status := resp.StatusCode(); {
		case status == http.StatusOK:
			return parse(body)

		case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
			wait := retryDelay(resp, b, attempt)
			if status == http.StatusTooManyRequests && rl != nil {
				rl.pause(wait)
			}
			if attempt < maxRetries {
				slog.Debug("backend busy, retrying",
					"backend", b.ID, "status", status, "wait", wait, "attempt", attempt+1)
				if err := sleep(ctx, wait); err != nil {
					return "", err
				}
				if rl != nil {
					rl.unpause()
				}
				continue
			}
			return "", fmt.Errorf("%s: status %d after %d retries: %s", b.ID, status, maxRetries, truncate(string(body), 300))

		case status >= 500 && attempt < maxRetries:
			if err := sleep(ctx, b.backoff(attempt)); err != nil {
				return "", err
			}
			continue

		default:
			return "", fmt.Errorf("%s: status %d: %s", b.ID, status, truncate(string(body), 300))
		}
	}

	return "", fmt.Errorf("%s: exhausted all %d retries", b.ID, maxRetries)
}

// retryDelay honours Retry-After and the inference API's estimated_time hint
// before falling back to exponential backoff.
func retryDelay(resp *resty.Response, b Backend, attempt int) time.Duration {
	limit := b.effectiveMaxRetryWait()
	if s := resp.Header().Get("Retry-After"); s != "" {
		if secs, err := strconv.ParseFloat(s, 64); err == nil && secs >= 0 {
			return min(time.Duration(secs*float64(time.Second)), limit)
		}
	}
	if est := estimatedTime(resp.Body()); est > 0 {
		return min(est, limit)
	}
	return b.backoff(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncate truncates a string to maxLen bytes.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// ErrEmptyTranslation is returned when a backend answers with no text.
var ErrEmptyTranslation = errors.New("backend returned an empty translation")

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// CacheSize bounds the number of resident translators.
	CacheSize int
	// MaxInputRunes truncates longer inputs (0 = unlimited).
	MaxInputRunes int
	// Logger receives warnings; slog.Default() when nil.
	Logger *slog.Logger
	// OpenFunc replaces Open; used by tests and the CLI dry run.
	OpenFunc func(catalog.Descriptor) (Translator, error)
}

// Service translates strings for any pair in the catalog, keeping recently
// used translators resident.
type Service struct {
	catalog  *catalog.Catalog
	cache    *modelcache.Cache[Translator]
	maxRunes int
	logger   *slog.Logger
}

// NewService wires a catalog, a backend and the translator cache together.
func NewService(cat *catalog.Catalog, b Backend, opts ServiceOptions) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	openFn := opts.OpenFunc
	if openFn == nil {
		rl := &rateLimitState{}
		openFn = func(d catalog.Descriptor) (Translator, error) {
			return open(b, d, rl)
		}
	}

	s := &Service{catalog: cat, maxRunes: opts.MaxInputRunes, logger: logger}
	cache, err := modelcache.New(opts.CacheSize, func(_ context.Context, code string) (Translator, error) {
		d, err := cat.Lookup(code)
		if err != nil {
			return nil, err
		}
		return openFn(d)
	}, logger)
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Catalog returns the catalog the service translates for.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Translate translates text with the model registered for code. Inputs
// longer than the configured rune limit are truncated with a warning. The
// model output is trimmed and given the source's surrounding whitespace.
func (s *Service) Translate(ctx context.Context, code, text string) (string, error) {
	if _, err := s.catalog.Lookup(code); err != nil {
		return "", err
	}
	tr, err := s.cache.Get(ctx, code)
	if err != nil {
		return "", fmt.Errorf("loading model for %s: %w", code, err)
	}

	src := text
	if s.maxRunes > 0 && utf8.RuneCountInString(text) > s.maxRunes {
		s.logger.Warn("input truncated",
			"code", code, "runes", utf8.RuneCountInString(text), "limit", s.maxRunes)
		text = truncateRunes(text, s.maxRunes)
	}

	out, err := tr.Translate(ctx, text)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyTranslation
	}
	return keepEdges(src, out), nil
}

// keepEdges wraps out in the leading and trailing whitespace of src, so
// entries ending in a newline still end in one.
func keepEdges(src, out string) string {
	if strings.TrimSpace(src) == "" {
		return out
	}
	lead := len(src) - len(strings.TrimLeftFunc(src, unicode.IsSpace))
	tail := len(strings.TrimRightFunc(src, unicode.IsSpace))
	return src[:lead] + out + src[tail:]
}

// Close evicts all resident translators.
func (s *Service) Close() { s.cache.Purge() }

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
