package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// huggingFace calls a hosted MarianMT model through the inference API.
type huggingFace struct {
	backend Backend
	model   string
	client  *resty.Client
	rl      *rateLimitState
}

type hfRequest struct {
	Inputs  string    `json:"inputs"`
	Options hfOptions `json:"options"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

func (h *huggingFace) Translate(ctx context.Context, text string) (string, error) {
	req := hfRequest{Inputs: text, Options: hfOptions{WaitForModel: true}}
	return send(ctx, h.backend, h.rl, func() (*resty.Response, error) {
		return h.client.R().
			SetContext(ctx).
			SetBody(req).
			Post("/models/" + h.model)
	}, parseHFResponse)
}

// parseHFResponse reads [{"translation_text": "..."}]. Some deployments
// answer with a bare object, which is accepted too.
func parseHFResponse(body []byte) (string, error) {
	var list []struct {
		TranslationText string `json:"translation_text"`
	}
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return "", ErrEmptyTranslation
		}
		return list[0].TranslationText, nil
	}

	var single struct {
		TranslationText string `json:"translation_text"`
		Error           string `json:"error"`
	}
	if err := json.Unmarshal(body, &single); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}
	if single.Error != "" {
		return "", fmt.Errorf("API error: %s", single.Error)
	}
	return single.TranslationText, nil
}

// estimatedTime extracts the model warm-up estimate from a 503 body such as
// {"error":"Model is currently loading","estimated_time":20.0}.
func estimatedTime(body []byte) time.Duration {
	var loading struct {
		EstimatedTime float64 `json:"estimated_time"`
	}
	if err := json.Unmarshal(body, &loading); err != nil || loading.EstimatedTime <= 0 {
		return 0
	}
	return time.Duration(loading.EstimatedTime * float64(time.Second))
}
