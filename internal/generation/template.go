package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aisaas-platform/aisaas/internal/models"
)

const (
	ContentMarkdown = "text/markdown"
	ContentJSON     = "application/json"
	ContentImageURL = "text/uri-list"
)

// TemplateBackend returns canned, deterministic content. It is the default
// for development and demos.
type TemplateBackend struct{}

func NewTemplateBackend() *TemplateBackend {
	return &TemplateBackend{}
}

func (TemplateBackend) Generate(ctx context.Context, in *Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch p := in.Params.(type) {
	case ArticleParams:
		return text(article(p)), nil
	case BlogParams:
		b, err := json.Marshal(blogTitles(p))
		if err != nil {
			return nil, err
		}
		return &Result{Content: string(b), ContentType: ContentJSON, Metadata: models.Metadata{models.MetaCount: p.Quantity}}, nil
	case ImageParams:
		u := placeholder(p.Size, "3B82F6", "FFFFFF", truncate(p.Prompt, 20))
		return &Result{Content: u, ContentType: ContentImageURL, Metadata: models.Metadata{models.MetaImageURL: u}}, nil
	case EditParams:
		label := "Background Removed (Demo)"
		color := "00ff00"
		if in.Tool == models.ToolObjectRemoval {
			label = p.Object + " Removed (Demo)"
			color = "800080"
		}
		u := placeholder("800x600", color, "ffffff", label)
		return &Result{Content: u, ContentType: ContentImageURL, Metadata: models.Metadata{models.MetaImageURL: u}}, nil
	case ResumeParams:
		return text(resumeReview(p)), nil
	}
	return nil, fmt.Errorf("template backend: no template for %s", in.Tool)
}

func text(s string) *Result {
	return &Result{
		Content:     s,
		ContentType: ContentMarkdown,
		Metadata:    models.Metadata{models.MetaWordCount: len(strings.Fields(s))},
	}
}

func placeholder(size, bg, fg, label string) string {
	return fmt.Sprintf("https://via.placeholder.com/%s/%s/%s?text=%s", size, bg, fg, url.QueryEscape(label))
}

func article(p ArticleParams) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", p.Topic)
	fmt.Fprintf(&b, "This %s article about %q is a %s-length overview.\n\n", p.Tone, p.Topic, p.Length)
	b.WriteString("### Key Points\n\n")
	fmt.Fprintf(&b, "- %s improves efficiency\n", p.Topic)
	b.WriteString("- Automation reduces costs\n")
	b.WriteString("- Data-driven decisions enhance accuracy\n")
	if len(p.Keywords) > 0 {
		fmt.Fprintf(&b, "\n**Keywords:** %s\n", strings.Join(p.Keywords, ", "))
	}
	b.WriteString("\n### Conclusion\n\n")
	fmt.Fprintf(&b, "%s will continue to evolve and redefine how we work and live.\n", p.Topic)
	return b.String()
}

func blogTitles(p BlogParams) []string {
	k := p.Keyword
	titles := []string{
		fmt.Sprintf("Top %s Trends You Can't Ignore", k),
		fmt.Sprintf("How %s Is Changing the %s Industry", k, p.Category),
		fmt.Sprintf("%s: The Future Starts Now", k),
		fmt.Sprintf("10 Shocking Facts About %s", k),
		fmt.Sprintf("Why Everyone Is Talking About %s", k),
		fmt.Sprintf("The Complete Guide to %s: Everything You Need to Know", k),
		fmt.Sprintf("Why %s Matters More Than Ever for %s Professionals", k, p.Category),
		fmt.Sprintf("Common %s Mistakes and How to Avoid Them", k),
		fmt.Sprintf("%s Tools and Resources for %s Experts", k, p.Category),
		fmt.Sprintf("Advanced %s Strategies for Maximum Impact", k),
	}
	if p.Quantity < len(titles) {
		titles = titles[:p.Quantity]
	}
	return titles
}

func resumeReview(p ResumeParams) string {
	var b strings.Builder
	b.WriteString("## Resume Review\n\n")
	if p.TargetRole != "" {
		fmt.Fprintf(&b, "Target role: **%s**\n\n", p.TargetRole)
	}
	fmt.Fprintf(&b, "Reviewed %d words.\n\n", len(strings.Fields(p.Resume)))
	b.WriteString("### Strengths\n\n")
	b.WriteString("- Clear structure with well-labelled sections\n")
	b.WriteString("- Relevant experience listed in order\n\n")
	b.WriteString("### Areas for Improvement\n\n")
	b.WriteString("- Add measurable results to each role\n")
	b.WriteString("- Open with a short professional summary\n")
	b.WriteString("- Group skills by category\n\n")
	b.WriteString("**Overall Score: 7.5/10**\n")
	return b.String()
}
