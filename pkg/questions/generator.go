package questions

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// GenerateRequest is the input to an AnswerGenerator
type GenerateRequest struct {
	Title   string
	Content string
	// Premium selects the stronger model for paid tiers
	Premium bool
}

// Generated is an answer produced for a question
type Generated struct {
	Content        string
	SEOTitle       string
	SEODescription string
	Category       string
	Tags           []string
	Model          string
	ResponseTime   time.Duration
}

// AnswerGenerator produces an answer for a question
type AnswerGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Generated, error)
}

// Model names recorded with template answers
const (
	ModelStandard = "template-standard"
	ModelPremium  = "template-premium"
)

type categoryRule struct {
	keyword  string
	category string
	tags     []string
}

// checked in order, first match wins
var categoryRules = []categoryRule{
	{keyword: "stripe", category: "stripe", tags: []string{"stripe", "payments", "integration"}},
	{keyword: "claude", category: "claude", tags: []string{"claude", "api", "ai"}},
	{keyword: "cursor", category: "cursor", tags: []string{"cursor", "ai-coding", "shortcuts"}},
	{keyword: "bolt", category: "bolt.new", tags: []string{"bolt.new", "deployment", "hosting"}},
	{keyword: "replit", category: "replit", tags: []string{"replit", "development", "environment"}},
}

// Categorize assigns a category and tags from keywords in the content
func Categorize(content string) (string, []string) {
	lower := strings.ToLower(content)
	for _, rule := range categoryRules {
		if strings.Contains(lower, rule.keyword) {
			return rule.category, append([]string(nil), rule.tags...)
		}
	}
	return "general", []string{"vibecoding"}
}

// TemplateGenerator builds a structured markdown answer without calling an
// external model. It backs local development and tests.
type TemplateGenerator struct {
	now func() time.Time
}

// NewTemplateGenerator creates a template generator
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{now: time.Now}
}

// Generate implements AnswerGenerator
func (g *TemplateGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generated, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := g.now()

	category, tags := Categorize(req.Content)
	model := ModelStandard
	if req.Premium {
		model = ModelPremium
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", req.Title)
	b.WriteString("## The short answer\n\n")
	fmt.Fprintf(&b, "Start small: get the simplest version of %q working end to end, then iterate.\n\n", req.Title)
	b.WriteString("## Step by step\n\n")
	b.WriteString("1. Write down exactly what you want to happen.\n")
	b.WriteString("2. Build the smallest piece that proves it works.\n")
	b.WriteString("3. Test it, then add the next piece.\n\n")
	b.WriteString("## Resources\n\n")
	b.WriteString(resourceLine(category))
	b.WriteString("\n")

	return &Generated{
		Content:        b.String(),
		SEOTitle:       fmt.Sprintf("How to %s - Complete Guide", req.Title),
		SEODescription: fmt.Sprintf("Learn how to %s with step-by-step instructions and code examples.", strings.ToLower(req.Title)),
		Category:       category,
		Tags:           tags,
		Model:          model,
		ResponseTime:   g.now().Sub(start),
	}, nil
}

func resourceLine(category string) string {
	switch category {
	case "stripe":
		return "- Stripe Documentation: stripe.com/docs\n- Test with: 4242 4242 4242 4242\n"
	case "claude":
		return "- Claude API Docs: docs.anthropic.com\n- Start with simple prompts first\n"
	default:
		return "- Next.js Tutorial: nextjs.org/learn\n- Build in small iterations\n"
	}
}
