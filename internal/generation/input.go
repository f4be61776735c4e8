// Package generation validates tool parameters and runs them against a
// content backend.
package generation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aisaas-platform/aisaas/internal/apperr"
	"github.com/aisaas-platform/aisaas/internal/models"
)

const maxTitleRunes = 50

// ArticleParams are the article-writer inputs.
type ArticleParams struct {
	Topic    string   `json:"topic"`
	Tone     string   `json:"tone,omitempty"`
	Length   string   `json:"length,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// BlogParams are the blog-generator inputs.
type BlogParams struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category,omitempty"`
	Tone     string `json:"tone,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
}

// ImageParams are the image-generator inputs.
type ImageParams struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style"`
	Size   string `json:"size"`
}

// EditParams are the inputs of the background and object removal tools.
// Image is a data URL or a fetchable URL.
type EditParams struct {
	Image    string `json:"image"`
	Filename string `json:"filename,omitempty"`
	Object   string `json:"object,omitempty"`
}

// ResumeParams are the resume-reviewer inputs.
type ResumeParams struct {
	Resume     string `json:"resume"`
	TargetRole string `json:"targetRole,omitempty"`
}

// Input is a validated tool request ready for a backend.
type Input struct {
	Tool     models.ToolType
	Params   any // one of the *Params types above
	Title    string
	Metadata models.Metadata
}

// JSON returns the normalized parameters as stored in the ledger. Image
// payloads are left out; the ledger keeps a reference, not the bytes.
func (in *Input) JSON() json.RawMessage {
	params := in.Params
	if p, ok := params.(EditParams); ok && strings.HasPrefix(p.Image, "data:") {
		p.Image = ""
		params = p
	}
	b, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}

// ParseInput decodes and validates raw tool parameters.
func ParseInput(tool models.ToolType, raw []byte) (*Input, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	in := &Input{Tool: tool, Metadata: models.Metadata{}}

	switch tool {
	case models.ToolArticleWriter:
		var p ArticleParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		p.Topic = strings.TrimSpace(p.Topic)
		if p.Topic == "" {
			return nil, apperr.Invalid("topic is required")
		}
		if p.Tone == "" {
			p.Tone = "professional"
		}
		if p.Length == "" {
			p.Length = "medium"
		}
		in.Params, in.Title = p, p.Topic

	case models.ToolBlogGenerator:
		var p BlogParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		p.Keyword = strings.TrimSpace(p.Keyword)
		if p.Keyword == "" {
			return nil, apperr.Invalid("keyword is required")
		}
		if p.Category == "" {
			p.Category = "technology"
		}
		if p.Tone == "" {
			p.Tone = "clickbait"
		}
		if p.Quantity <= 0 || p.Quantity > 10 {
			p.Quantity = 5
		}
		in.Params, in.Title = p, p.Keyword
		in.Metadata[models.MetaCount] = p.Quantity

	case models.ToolImageGenerator:
		var p ImageParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		p.Prompt = strings.TrimSpace(p.Prompt)
		if p.Prompt == "" {
			return nil, apperr.Invalid("prompt is required")
		}
		if p.Style == "" {
			p.Style = "realistic"
		}
		if p.Size == "" {
			p.Size = "512x512"
		}
		if _, _, err := ParseSize(p.Size); err != nil {
			return nil, apperr.Invalid(err.Error())
		}
		in.Params, in.Title = p, truncate(p.Prompt, maxTitleRunes)
		in.Metadata[models.MetaStyle] = p.Style
		in.Metadata[models.MetaSize] = p.Size

	case models.ToolBackgroundRemoval, models.ToolObjectRemoval:
		var p EditParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Image) == "" {
			return nil, apperr.Invalid("image is required")
		}
		p.Object = strings.TrimSpace(p.Object)
		in.Title = "Background Removed"
		if tool == models.ToolObjectRemoval {
			if p.Object == "" {
				return nil, apperr.Invalid("object is required")
			}
			in.Title = truncate(p.Object+" removed", maxTitleRunes)
			in.Metadata[models.MetaObjectRemoved] = p.Object
		}
		if data, _, ok := DecodeDataURL(p.Image); ok {
			in.Metadata[models.MetaOriginalSize] = len(data)
		} else if strings.HasPrefix(p.Image, "data:") {
			return nil, apperr.Invalid("image is not a valid data URL")
		}
		if p.Filename != "" {
			in.Metadata[models.MetaOriginalFilename] = p.Filename
		}
		in.Params = p

	case models.ToolResumeReviewer:
		var p ResumeParams
		if err := decode(raw, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Resume) == "" {
			return nil, apperr.Invalid("resume is required")
		}
		p.TargetRole = strings.TrimSpace(p.TargetRole)
		in.Title = "Resume review"
		if p.TargetRole != "" {
			in.Title = truncate(p.TargetRole, maxTitleRunes)
		}
		in.Params = p

	default:
		return nil, apperr.Invalid(fmt.Sprintf("unknown tool type %q", tool))
	}
	return in, nil
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Invalid("malformed parameters")
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// ParseSize splits a WIDTHxHEIGHT image size.
func ParseSize(size string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(size, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 || w > 2048 || h > 2048 {
		return 0, 0, fmt.Errorf("invalid size %q", size)
	}
	return w, h, nil
}

var errNotDataURL = errors.New("not a base64 data URL")

// DecodeDataURL decodes a base64 data URL such as data:image/png;base64,....
func DecodeDataURL(s string) ([]byte, string, bool) {
	data, mime, err := decodeDataURL(s)
	return data, mime, err == nil
}

func decodeDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", errNotDataURL
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", errNotDataURL
	}
	mime, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return nil, "", errNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", err
	}
	return data, mime, nil
}
