package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/config"
	"github.com/aisaas-platform/aisaas/internal/models"
)

func TestParseInput(t *testing.T) {
	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fake-png"))

	tests := []struct {
		name    string
		tool    models.ToolType
		raw     string
		title   string
		wantErr bool
	}{
		{"article", models.ToolArticleWriter, `{"topic":"Go generics"}`, "Go generics", false},
		{"article missing topic", models.ToolArticleWriter, `{"tone":"casual"}`, "", true},
		{"blog", models.ToolBlogGenerator, `{"keyword":"AI","quantity":3}`, "AI", false},
		{"blog blank keyword", models.ToolBlogGenerator, `{"keyword":"  "}`, "", true},
		{"image", models.ToolImageGenerator, `{"prompt":"a lighthouse at dusk"}`, "a lighthouse at dusk", false},
		{"image bad size", models.ToolImageGenerator, `{"prompt":"x","size":"huge"}`, "", true},
		{"background", models.ToolBackgroundRemoval, `{"image":"` + png + `","filename":"me.png"}`, "Background Removed", false},
		{"background bad data url", models.ToolBackgroundRemoval, `{"image":"data:image/png;base64,!!"}`, "", true},
		{"object needs object", models.ToolObjectRemoval, `{"image":"https://x/y.png"}`, "", true},
		{"object", models.ToolObjectRemoval, `{"image":"https://x/y.png","object":"car"}`, "car removed", false},
		{"resume default title", models.ToolResumeReviewer, `{"resume":"ten years of Go"}`, "Resume review", false},
		{"resume with role", models.ToolResumeReviewer, `{"resume":"cv","targetRole":"SRE"}`, "SRE", false},
		{"malformed", models.ToolArticleWriter, `{"topic":`, "", true},
		{"unknown tool", models.ToolType("video-maker"), `{}`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := ParseInput(tt.tool, []byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperr.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.title, in.Title)
		})
	}
}

func TestParseInput_Defaults(t *testing.T) {
	in, err := ParseInput(models.ToolImageGenerator, []byte(`{"prompt":"`+strings.Repeat("p", 80)+`"}`))
	require.NoError(t, err)
	p := in.Params.(ImageParams)
	assert.Equal(t, "realistic", p.Style)
	assert.Equal(t, "512x512", p.Size)
	assert.Len(t, in.Title, 50)
	assert.Equal(t, "512x512", in.Metadata.String(models.MetaSize))

	in, err = ParseInput(models.ToolBlogGenerator, []byte(`{"keyword":"Go","quantity":99}`))
	require.NoError(t, err)
	assert.Equal(t, 5, in.Params.(BlogParams).Quantity)
	assert.Equal(t, "technology", in.Params.(BlogParams).Category)
}

func TestInputJSON_DropsInlineImage(t *testing.T) {
	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("bytes"))
	in, err := ParseInput(models.ToolBackgroundRemoval, []byte(`{"image":"`+png+`","filename":"a.png"}`))
	require.NoError(t, err)
	assert.Equal(t, 5, in.Metadata[models.MetaOriginalSize])

	var stored map[string]any
	require.NoError(t, json.Unmarshal(in.JSON(), &stored))
	assert.NotContains(t, stored, "image")
	assert.Equal(t, "a.png", stored["filename"])
}

func TestTemplateBackend(t *testing.T) {
	b := NewTemplateBackend()
	ctx := context.Background()

	in, err := ParseInput(models.ToolBlogGenerator, []byte(`{"keyword":"Rust","category":"systems","quantity":3}`))
	require.NoError(t, err)
	res, err := b.Generate(ctx, in)
	require.NoError(t, err)
	var titles []string
	require.NoError(t, json.Unmarshal([]byte(res.Content), &titles))
	assert.Equal(t, []string{
		"Top Rust Trends You Can't Ignore",
		"How Rust Is Changing the systems Industry",
		"Rust: The Future Starts Now",
	}, titles)

	in, err = ParseInput(models.ToolImageGenerator, []byte(`{"prompt":"red fox","size":"256x256"}`))
	require.NoError(t, err)
	res, err = b.Generate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, ContentImageURL, res.ContentType)
	assert.True(t, strings.HasPrefix(res.Content, "https://via.placeholder.com/256x256/"))

	in, err = ParseInput(models.ToolArticleWriter, []byte(`{"topic":"Edge computing"}`))
	require.NoError(t, err)
	res, err = b.Generate(ctx, in)
	require.NoError(t, err)
	assert.Contains(t, res.Content, "## Edge computing")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = b.Generate(cancelled, in)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPBackend(t *testing.T) {
	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		var req struct {
			ToolType string         `json:"toolType"`
			Params   map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		switch req.ToolType {
		case "image-generator":
			_ = json.NewEncoder(w).Encode(map[string]any{"content": img, "contentType": "image/png"})
		case "article-writer":
			_ = json.NewEncoder(w).Encode(map[string]any{"content": "# " + req.Params["topic"].(string), "contentType": "text/markdown"})
		default:
			http.Error(w, "upstream exploded", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, "key-1", srv.Client())
	ctx := context.Background()

	in, _ := ParseInput(models.ToolArticleWriter, []byte(`{"topic":"Queues"}`))
	res, err := b.Generate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "# Queues", res.Content)
	assert.Nil(t, res.Data)

	in, _ = ParseInput(models.ToolImageGenerator, []byte(`{"prompt":"owl"}`))
	res, err = b.Generate(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), res.Data)
	assert.Equal(t, "image/png", res.ContentType)

	in, _ = ParseInput(models.ToolResumeReviewer, []byte(`{"resume":"cv"}`))
	_, err = b.Generate(ctx, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPBackend_HonorsDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	b := NewHTTPBackend(srv.URL, "", srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	in, _ := ParseInput(models.ToolArticleWriter, []byte(`{"topic":"slow"}`))
	_, err := b.Generate(ctx, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(config.GenerationConfig{Backend: "template"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &TemplateBackend{}, b)

	b, err = NewBackend(config.GenerationConfig{Backend: "http", Endpoint: "http://gen"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &HTTPBackend{}, b)

	_, err = NewBackend(config.GenerationConfig{Backend: "gpu"}, zap.NewNop())
	require.Error(t, err)
}
