package models

import (
	"encoding/json"
	"time"
)

// ToolType identifies one of the generation tools.
type ToolType string

const (
	ToolArticleWriter     ToolType = "article-writer"
	ToolBlogGenerator     ToolType = "blog-generator"
	ToolImageGenerator    ToolType = "image-generator"
	ToolBackgroundRemoval ToolType = "background-removal"
	ToolObjectRemoval     ToolType = "object-removal"
	ToolResumeReviewer    ToolType = "resume-reviewer"
)

var toolTypes = []ToolType{
	ToolArticleWriter,
	ToolBlogGenerator,
	ToolImageGenerator,
	ToolBackgroundRemoval,
	ToolObjectRemoval,
	ToolResumeReviewer,
}

// ToolTypes returns every known tool in display order.
func ToolTypes() []ToolType {
	out := make([]ToolType, len(toolTypes))
	copy(out, toolTypes)
	return out
}

// ParseToolType validates a tool name from a URL or filter.
func ParseToolType(s string) (ToolType, bool) {
	for _, t := range toolTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// ProducesImage reports whether the tool's output is an image.
func (t ToolType) ProducesImage() bool {
	switch t {
	case ToolImageGenerator, ToolBackgroundRemoval, ToolObjectRemoval:
		return true
	}
	return false
}

// Creation is one recorded tool invocation. Rows are never updated.
type Creation struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"userId" db:"user_id"`
	ToolType  ToolType        `json:"toolType" db:"tool_type"`
	Title     string          `json:"title" db:"title"`
	Input     json.RawMessage `json:"input" db:"input"`
	Output    string          `json:"output" db:"output"`
	Metadata  Metadata        `json:"metadata" db:"metadata"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// CreationFilter narrows creation listings.
type CreationFilter struct {
	UserID   string
	ToolType ToolType
}
