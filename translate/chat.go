package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/minios-linux/pomt/catalog"
	"github.com/minios-linux/pomt/langmeta"
)

// DefaultSystemPrompt instructs chat models to behave like a translation model.
const DefaultSystemPrompt = `You are a professional translator specializing in software localization. You are translating user interface strings from a gettext catalog.

Translate the user's message from {{sourceLang}} to {{targetLang}}.

Rules:
- Reply with the translation only, without quotes, notes or explanations.
- Keep placeholders such as %s, %d, %(name)s, {0} and {name} exactly as they are.
- Keep markup, keyboard accelerators (_File, &Open) and escape sequences.
- Keep leading and trailing whitespace and line breaks.
- If the text should not be translated (a command, a file name), return it unchanged.`

// chat calls an OpenAI-compatible chat completions endpoint.
type chat struct {
	backend Backend
	prompt  string
	client  *resty.Client
	rl      *rateLimitState
}

func newChat(b Backend, d catalog.Descriptor, rl *rateLimitState) *chat {
	prompt := b.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	prompt = strings.NewReplacer(
		"{{sourceLang}}", langmeta.EnglishName(d.Source),
		"{{targetLang}}", langmeta.EnglishName(d.Target),
	).Replace(prompt)
	return &chat{backend: b, prompt: prompt, client: newClient(b), rl: rl}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

func (c *chat) Translate(ctx context.Context, text string) (string, error) {
	req := chatRequest{
		Model: c.backend.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.prompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.3,
	}
	endpoint := "/chat/completions"
	if strings.HasSuffix(strings.TrimRight(c.backend.BaseURL, "/"), "/chat/completions") {
		endpoint = ""
	}
	return send(ctx, c.backend, c.rl, func() (*resty.Response, error) {
		return c.client.R().
			SetContext(ctx).
			SetBody(req).
			Post(endpoint)
	}, parseChatResponse)
}

var markdownCodeBlock = regexp.MustCompile("(?s)^```[a-z]*\\s*(.*?)\\s*```$")

// parseChatResponse reads choices[0].message.content and strips wrappers that
// chat models tend to add around a bare answer.
func parseChatResponse(body []byte) (string, error) {
	var resp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 300))
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if m := markdownCodeBlock.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	return content, nil
}
