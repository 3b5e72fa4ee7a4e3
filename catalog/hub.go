package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultHubURL is the public Hugging Face Hub.
const DefaultHubURL = "https://huggingface.co"

const maxHubPages = 20

// HubClient lists models from a Hugging Face Hub compatible registry.
type HubClient struct {
	http *resty.Client
}

// NewHubClient creates a registry client. token may be empty.
func NewHubClient(baseURL, token string, timeout time.Duration) *HubClient {
	if baseURL == "" {
		baseURL = DefaultHubURL
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &HubClient{http: c}
}

type hubModel struct {
	ID      string `json:"id"`
	ModelID string `json:"modelId"`
}

// ListModels returns the IDs of models published by author whose name
// matches search, following the registry's Link pagination.
func (h *HubClient) ListModels(ctx context.Context, author, search string) ([]string, error) {
	var ids []string
	next := "/api/models"
	for page := 0; next != "" && page < maxHubPages; page++ {
		var models []hubModel
		req := h.http.R().SetContext(ctx).SetResult(&models)
		if page == 0 {
			req.SetQueryParams(map[string]string{
				"author": author,
				"search": search,
				"limit":  "1000",
			})
		}
		resp, err := req.Get(next)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("hub list models: %s; body: %s", resp.Status(), truncate(resp.String(), 300))
		}
		for _, m := range models {
			id := m.ID
			if id == "" {
				id = m.ModelID
			}
			if id != "" {
				ids = append(ids, id)
			}
		}
		next = nextLink(resp.Header().Get("Link"))
	}
	return ids, nil
}

// nextLink extracts the rel="next" target from an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segs := strings.Split(part, ";")
		if len(segs) < 2 {
			continue
		}
		target := strings.TrimSpace(segs[0])
		for _, p := range segs[1:] {
			if strings.ReplaceAll(strings.TrimSpace(p), " ", "") == `rel="next"` {
				return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
			}
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
