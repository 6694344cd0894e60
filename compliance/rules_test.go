package compliance

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adgenius/generator"
)

func validDraft() generator.Draft {
	d := generator.Draft{}
	for i := 1; i <= 15; i++ {
		d.Headlines = append(d.Headlines, fmt.Sprintf("Fresh Coffee Deal %d", i))
	}
	d.Descriptions = []string{
		"Roasted to order and shipped within 48 hours.",
		"Single origin beans from farms we know by name.",
		"Free delivery on your first bag. Cancel anytime.",
		"Join 10,000 home baristas brewing better coffee.",
	}
	return d
}

func TestCheck_ValidDraftApproved(t *testing.T) {
	v := Check(validDraft())
	assert.True(t, v.Approved)
	assert.Empty(t, v.Feedback)
	assert.Empty(t, v.Violations)
}

func TestCheck_ShoutingDraft(t *testing.T) {
	d := validDraft()
	d.Headlines[0] = "BUY NOW!!!"
	d.Headlines[1] = "Great Deal"
	d.Headlines[2] = "Great Deal"

	v := Check(d)
	require.False(t, v.Approved)

	rules := map[string]Violation{}
	for _, vi := range v.Violations {
		rules[vi.Rule] = vi
	}
	require.Len(t, v.Violations, 3)

	assert.Equal(t, 1, rules[RuleAllCaps].Index)
	assert.Equal(t, 1, rules[RuleExclamation].Index)
	assert.Equal(t, 2, rules[RuleDuplicate].Index)
	assert.Equal(t, "Great Deal", rules[RuleDuplicate].Text)

	assert.True(t, strings.HasPrefix(v.Feedback, "Policy Violations Detected:\n"))
	assert.Contains(t, v.Feedback, "Headline #1 'BUY NOW!!!' has excessive capitalization")
	assert.Contains(t, v.Feedback, "Headline #1 'BUY NOW!!!' contains '!'")
	assert.Contains(t, v.Feedback, "Duplicate headline 'Great Deal' appears 2 times (headlines #2, #3)")
}

func TestCheck_SingleViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*generator.Draft)
		rule   string
		asset  string
		index  int
		cite   string
	}{
		{"long headline", func(d *generator.Draft) { d.Headlines[4] = strings.Repeat("a", 31) }, RuleLength, AssetHeadline, 5, "(31/30 chars)"},
		{"exclamation", func(d *generator.Draft) { d.Headlines[2] = "Order today!" }, RuleExclamation, AssetHeadline, 3, "Headline #3 'Order today!'"},
		{"caps headline", func(d *generator.Draft) { d.Headlines[0] = "FRESH BEANS" }, RuleAllCaps, AssetHeadline, 1, "up to 4 chars"},
		{"long description", func(d *generator.Draft) { d.Descriptions[1] = strings.Repeat("b", 91) }, RuleLength, AssetDescription, 2, "(91/90 chars)"},
		{"ellipsis", func(d *generator.Draft) { d.Descriptions[3] = "Taste the difference..." }, RulePunctuation, AssetDescription, 4, "'...'"},
		{"mixed punctuation", func(d *generator.Draft) { d.Descriptions[0] = "Ready to brew?!" }, RulePunctuation, AssetDescription, 1, "'?!'"},
		{"caps description", func(d *generator.Draft) { d.Descriptions[2] = "FREE DELIVERY ON ALL ORDERS" }, RuleAllCaps, AssetDescription, 3, "sentence case"},
		{"duplicate", func(d *generator.Draft) { d.Headlines[14] = d.Headlines[0] }, RuleDuplicate, AssetHeadline, 1, "(headlines #1, #15)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(&d)

			v := Check(d)
			require.False(t, v.Approved)
			require.Len(t, v.Violations, 1)
			got := v.Violations[0]
			assert.Equal(t, tt.rule, got.Rule)
			assert.Equal(t, tt.asset, got.Asset)
			assert.Equal(t, tt.index, got.Index)
			assert.Contains(t, v.Feedback, tt.cite)
		})
	}
}

func TestCheck_Boundaries(t *testing.T) {
	d := validDraft()
	d.Headlines[0] = strings.Repeat("é", 30)
	d.Headlines[1] = "SEO"
	d.Headlines[2] = "B2B"
	d.Headlines[3] = "100% Organic 24/7"
	d.Descriptions[0] = strings.Repeat("x", 90)
	d.Descriptions[1] = "Brew. Sip. Repeat."
	d.Descriptions[2] = "1234 5678"

	v := Check(d)
	assert.True(t, v.Approved, v.Feedback)
}

func TestCheck_Idempotent(t *testing.T) {
	d := validDraft()
	d.Headlines[0] = "BUY NOW!!!"
	d.Descriptions[0] = "WOW..."
	assert.Equal(t, Check(d), Check(d))
}

func TestIsAllCaps(t *testing.T) {
	assert.True(t, isAllCaps("SALE 50%"))
	assert.True(t, isAllCaps("ÉTÉ"))
	assert.False(t, isAllCaps("Sale"))
	assert.False(t, isAllCaps("2024 - 50%"))
	assert.False(t, isAllCaps(""))
}
