package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/prospectpilot-backend/internal/errors"
)

func TestRenderSubstitutesKnownFields(t *testing.T) {
	res := Render("Hi {first_name}, saw your work at {company_name}!", map[string]string{
		"first_name":   "Alice",
		"company_name": "Acme",
	})

	assert.Equal(t, "Hi Alice, saw your work at Acme!", res.Text)
	assert.Empty(t, res.Unresolved)
}

func TestRenderIsCaseInsensitive(t *testing.T) {
	res := Render("Hi {First_Name} from {COMPANY_NAME}", map[string]string{
		"first_name":   "Bob",
		"company_name": "Initech",
	})

	assert.Equal(t, "Hi Bob from Initech", res.Text)
	assert.Empty(t, res.Unresolved)
}

func TestRenderKeepsUnknownPlaceholdersVerbatim(t *testing.T) {
	res := Render("Hi {first_name}, about {mutual_interest}...", map[string]string{
		"first_name": "Carol",
	})

	assert.Contains(t, res.Text, "{mutual_interest}")
	assert.Equal(t, []string{"mutual_interest"}, res.Unresolved)
}

func TestRenderNormalizesLineBreaksBeforeLength(t *testing.T) {
	res := Render("line one\nline two\r\n\r\nline three", nil)

	assert.Equal(t, "line one line two line three", res.Text)
	assert.Equal(t, len([]rune("line one line two line three")), res.Length)
	assert.NotContains(t, res.Text, "\n")
}

func TestRenderLimitedRejectsOverLimitWithoutTruncation(t *testing.T) {
	long := strings.Repeat("x", 310)

	res, err := RenderLimited(long, nil, ConnectionRequestMaxLen)
	require.Error(t, err)

	var verr *appErrors.ValidationError
	require.ErrorAs(t, err, &verr)

	// Not truncated: the full body comes back for diagnosis.
	assert.Equal(t, 310, res.Length)
}

func TestRenderLimitedAcceptsAtLimit(t *testing.T) {
	body := strings.Repeat("y", 300)
	res, err := RenderLimited(body, nil, ConnectionRequestMaxLen)
	require.NoError(t, err)
	assert.Equal(t, 300, res.Length)
}

func TestRenderLimitedCountsNormalizedLength(t *testing.T) {
	// 299 chars of body plus newlines: after newline-to-space collapse the
	// message fits even though the raw string would not.
	body := strings.Repeat("z", 148) + "\n\n\n" + strings.Repeat("z", 150)
	res, err := RenderLimited(body, nil, ConnectionRequestMaxLen)
	require.NoError(t, err)
	assert.Equal(t, 299, res.Length)
}

func TestRenderLimitedRejectsEmpty(t *testing.T) {
	_, err := RenderLimited("  \n ", nil, ConnectionRequestMaxLen)
	assert.Error(t, err)
}

func TestMaxLenFor(t *testing.T) {
	assert.Equal(t, ConnectionRequestMaxLen, MaxLenFor(0))
	assert.Equal(t, FollowUpMaxLen, MaxLenFor(1))
	assert.Equal(t, FollowUpMaxLen, MaxLenFor(4))
}
