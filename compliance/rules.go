package compliance

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"adgenius/generator"
)

// Google Ads limits for responsive search ads.
const (
	MaxHeadlineChars    = 30
	MaxDescriptionChars = 90
	// MaxAcronymChars 以内的全大写标题视为缩写，允许。
	MaxAcronymChars = 4
)

const feedbackHeader = "Policy Violations Detected:\n"

// Asset kinds.
const (
	AssetHeadline    = "headline"
	AssetDescription = "description"
)

// Rule names.
const (
	RuleLength      = "length"
	RuleAllCaps     = "all_caps"
	RuleExclamation = "exclamation"
	RulePunctuation = "punctuation"
	RuleDuplicate   = "duplicate"
)

var repeatedPunct = regexp.MustCompile(`[!?.]{2,}`)

// Violation is one broken rule on one asset. Index is 1-based; duplicate groups carry the
// index of the first occurrence.
type Violation struct {
	Asset   string
	Index   int
	Text    string
	Rule    string
	Limit   int
	Message string
}

// Verdict 是一次合规检查的结果。Approved 时 Feedback 为空。
type Verdict struct {
	Approved   bool
	Feedback   string
	Violations []Violation
}

// Check applies every rule to draft and collects all violations. It has no side effects.
func Check(draft generator.Draft) Verdict {
	var vs []Violation

	for i, h := range draft.Headlines {
		n := i + 1
		if l := utf8.RuneCountInString(h); l > MaxHeadlineChars {
			vs = append(vs, Violation{
				Asset: AssetHeadline, Index: n, Text: h, Rule: RuleLength, Limit: MaxHeadlineChars,
				Message: fmt.Sprintf("Headline #%d '%s' exceeds limit (%d/%d chars).", n, h, l, MaxHeadlineChars),
			})
		}
		if isAllCaps(h) && utf8.RuneCountInString(h) > MaxAcronymChars {
			vs = append(vs, Violation{
				Asset: AssetHeadline, Index: n, Text: h, Rule: RuleAllCaps, Limit: MaxAcronymChars,
				Message: fmt.Sprintf("Headline #%d '%s' has excessive capitalization. All caps is only allowed for acronyms of up to %d chars; use title or sentence case.", n, h, MaxAcronymChars),
			})
		}
		if strings.Contains(h, "!") {
			vs = append(vs, Violation{
				Asset: AssetHeadline, Index: n, Text: h, Rule: RuleExclamation,
				Message: fmt.Sprintf("Headline #%d '%s' contains '!'. Exclamation marks are not allowed in headlines.", n, h),
			})
		}
	}

	for i, d := range draft.Descriptions {
		n := i + 1
		if l := utf8.RuneCountInString(d); l > MaxDescriptionChars {
			vs = append(vs, Violation{
				Asset: AssetDescription, Index: n, Text: d, Rule: RuleLength, Limit: MaxDescriptionChars,
				Message: fmt.Sprintf("Description #%d '%s' exceeds limit (%d/%d chars).", n, d, l, MaxDescriptionChars),
			})
		}
		if run := repeatedPunct.FindString(d); run != "" {
			vs = append(vs, Violation{
				Asset: AssetDescription, Index: n, Text: d, Rule: RulePunctuation, Limit: 1,
				Message: fmt.Sprintf("Description #%d '%s' contains excessive punctuation '%s'. Use at most 1 consecutive mark from '!', '?', '.'.", n, d, run),
			})
		}
		if isAllCaps(d) {
			vs = append(vs, Violation{
				Asset: AssetDescription, Index: n, Text: d, Rule: RuleAllCaps,
				Message: fmt.Sprintf("Description #%d '%s' uses excessive capitalization. Please use sentence case.", n, d),
			})
		}
	}

	vs = append(vs, duplicates(draft.Headlines)...)

	if len(vs) == 0 {
		return Verdict{Approved: true}
	}
	return Verdict{Violations: vs, Feedback: Feedback(vs)}
}

// Feedback renders violations as repair instructions for the copywriter.
func Feedback(vs []Violation) string {
	lines := make([]string, len(vs))
	for i, v := range vs {
		lines[i] = v.Message
	}
	return feedbackHeader + strings.Join(lines, "\n")
}

// duplicates 每个重复组只报告一次，列出所有出现位置。
func duplicates(headlines []string) []Violation {
	seen := make(map[string][]int, len(headlines))
	var order []string
	for i, h := range headlines {
		if _, ok := seen[h]; !ok {
			order = append(order, h)
		}
		seen[h] = append(seen[h], i+1)
	}

	var vs []Violation
	for _, h := range order {
		idx := seen[h]
		if len(idx) < 2 {
			continue
		}
		pos := make([]string, len(idx))
		for i, n := range idx {
			pos[i] = fmt.Sprintf("#%d", n)
		}
		vs = append(vs, Violation{
			Asset: AssetHeadline, Index: idx[0], Text: h, Rule: RuleDuplicate, Limit: 1,
			Message: fmt.Sprintf("Duplicate headline '%s' appears %d times (headlines %s). Every headline must be unique; replace the repeats.", h, len(idx), strings.Join(pos, ", ")),
		})
	}
	return vs
}

// isAllCaps: at least one cased letter and no lower-case letters.
func isAllCaps(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}
