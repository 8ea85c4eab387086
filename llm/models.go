package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/akirco/llmhub/errors"
	"github.com/akirco/llmhub/logger"
	"github.com/akirco/llmhub/resilience"
)

// maxModelsBody bounds a model listing response.
const maxModelsBody = 4 << 20

// ModelInfo describes one model a provider serves.
type ModelInfo struct {
	ID          string
	DisplayName string
	OwnedBy     string
	// Created is zero when the provider does not report it.
	Created time.Time
}

// ModelsPath is the model listing endpoint, or "" when the provider has none.
func (k ProviderKind) ModelsPath() string {
	switch k {
	case ProviderOllama:
		return "/api/tags"
	case ProviderGeneric:
		return ""
	default:
		return "/models"
	}
}

// ListModels fetches the models the provider serves, sorted by ID. The call
// counts against the request rate limit and is retried like a stream connect.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	kind := c.cfg.Provider
	path := kind.ModelsPath()
	if path == "" {
		return nil, errors.UnsupportedFeature(string(kind), "model listing")
	}
	if c.isClosed() {
		return nil, errors.Cancelled("client closed")
	}
	if err := c.requests.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	req := WireRequest{Method: http.MethodGet, Path: path, Headers: map[string]string{"Accept": "application/json"}}
	if kind == ProviderAnthropic {
		req.Headers["anthropic-version"] = anthropicVersion
	}
	retry := c.cfg.retryConfig()
	retry.RetryIf = resilience.DefaultRetryIf
	data, err := resilience.Retry(ctx, retry, func(int) ([]byte, error) {
		body, err := c.transport.Send(ctx, req)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		data, err := io.ReadAll(io.LimitReader(body, maxModelsBody))
		if err != nil {
			if errors.IsAppError(err) {
				return nil, err
			}
			return nil, errors.Transport(err)
		}
		return data, nil
	})
	if err != nil {
		return nil, errors.Wrap(err)
	}

	models, err := parseModels(kind, data)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(models, func(a, b ModelInfo) int { return strings.Compare(a.ID, b.ID) })
	c.log.Debug("models listed", logger.Fields("count", len(models)))
	return models, nil
}

type compatModelList struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
		Created int64  `json:"created"`
	} `json:"data"`
}

type anthropicModelList struct {
	Data []struct {
		ID          string    `json:"id"`
		DisplayName string    `json:"display_name"`
		CreatedAt   time.Time `json:"created_at"`
	} `json:"data"`
}

type ollamaModelList struct {
	Models []struct {
		Name       string    `json:"name"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

func parseModels(kind ProviderKind, data []byte) ([]ModelInfo, error) {
	var out []ModelInfo
	var err error
	switch kind {
	case ProviderAnthropic:
		var list anthropicModelList
		if err = json.Unmarshal(data, &list); err == nil {
			for _, m := range list.Data {
				out = append(out, ModelInfo{ID: m.ID, DisplayName: m.DisplayName, OwnedBy: "anthropic", Created: m.CreatedAt})
			}
		}
	case ProviderOllama:
		var list ollamaModelList
		if err = json.Unmarshal(data, &list); err == nil {
			for _, m := range list.Models {
				out = append(out, ModelInfo{ID: m.Name, DisplayName: m.Name, Created: m.ModifiedAt})
			}
		}
	default:
		var list compatModelList
		if err = json.Unmarshal(data, &list); err == nil {
			for _, m := range list.Data {
				info := ModelInfo{ID: m.ID, DisplayName: m.ID, OwnedBy: m.OwnedBy}
				if m.Created > 0 {
					info.Created = time.Unix(m.Created, 0).UTC()
				}
				out = append(out, info)
			}
		}
	}
	if err != nil {
		return nil, errors.ProtocolViolation(string(kind), "malformed model list").WithCause(err)
	}
	return out, nil
}
