// internal/render/render.go
package render

import (
	"fmt"
	"regexp"
	"strings"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
)

// Provider limits. Connection request notes are hard-capped by the provider;
// regular messages get a generous bound.
const (
	ConnectionRequestMaxLen = 300
	FollowUpMaxLen          = 8000
)

// placeholderPattern matches {field_name} tokens. Matching against field
// names is case-insensitive; unknown tokens are left verbatim.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_ ]+)\}`)

// lineBreakPattern collapses CR/LF runs. Raw line breaks were observed to be
// miscounted against the provider character limit, so normalization happens
// before any length is computed.
var lineBreakPattern = regexp.MustCompile(`[\r\n]+\s*`)

// Result is a rendered message body. Length is the post-normalization rune
// count, the number the provider limit is enforced against. Unresolved lists
// placeholders that matched no field and were left in place for operator
// review.
type Result struct {
	Text       string
	Length     int
	Unresolved []string
}

// Render substitutes recognized placeholders and normalizes line breaks to
// single spaces. It never fails; length enforcement is RenderLimited's job.
func Render(template string, fields map[string]string) Result {
	lowered := make(map[string]string, len(fields))
	for k, v := range fields {
		lowered[strings.ToLower(strings.TrimSpace(k))] = v
	}

	var unresolved []string
	text := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := strings.ToLower(strings.TrimSpace(token[1 : len(token)-1]))
		if value, ok := lowered[name]; ok {
			return value
		}
		unresolved = append(unresolved, name)
		return token
	})

	text = lineBreakPattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return Result{
		Text:       text,
		Length:     len([]rune(text)),
		Unresolved: unresolved,
	}
}

// RenderLimited renders and enforces a maximum length. Exceeding the limit is
// a validation failure, never a truncation: the caller must be told so the
// template can be shortened upstream.
func RenderLimited(template string, fields map[string]string, max int) (Result, error) {
	res := Render(template, fields)
	if strings.TrimSpace(res.Text) == "" {
		return res, appErrors.NewValidation("rendered message is empty")
	}
	if res.Length > max {
		return res, appErrors.NewValidation(fmt.Sprintf(
			"rendered message exceeds provider limit (%d > %d chars)", res.Length, max))
	}
	return res, nil
}

// MaxLenFor returns the provider limit for a sequence step.
func MaxLenFor(step int) int {
	if step == 0 {
		return ConnectionRequestMaxLen
	}
	return FollowUpMaxLen
}
