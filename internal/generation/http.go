package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aisaas-platform/aisaas/internal/models"
)

const maxResponseBytes = 20 << 20

// HTTPBackend forwards tool inputs to an external generation service as
// JSON and reads back {content, contentType, metadata}.
type HTTPBackend struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type httpRequest struct {
	ToolType models.ToolType `json:"toolType"`
	Params   any             `json:"params"`
}

type httpResponse struct {
	Content     string          `json:"content"`
	ContentType string          `json:"contentType"`
	Metadata    models.Metadata `json:"metadata"`
}

// NewHTTPBackend creates a backend posting to endpoint. A nil client uses
// http.DefaultClient; deadlines come from the request context.
func NewHTTPBackend(endpoint, apiKey string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{endpoint: endpoint, apiKey: apiKey, client: client}
}

func (h *HTTPBackend) Generate(ctx context.Context, in *Input) (*Result, error) {
	body, err := json.Marshal(httpRequest{ToolType: in.Tool, Params: in.Params})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("generation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out httpResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}
	if out.Content == "" {
		return nil, fmt.Errorf("generation service returned no content")
	}

	result := &Result{Content: out.Content, ContentType: out.ContentType, Metadata: out.Metadata}
	if result.Metadata == nil {
		result.Metadata = models.Metadata{}
	}
	if data, mime, ok := DecodeDataURL(out.Content); ok {
		result.Data = data
		result.ContentType = mime
	}
	return result, nil
}
