package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Agent roles. Each role gets its own instruction and a fresh session per invocation.
const (
	RoleStrategist = "strategist"
	RoleCopywriter = "copywriter"
	RoleReviewer   = "reviewer"
)

// Markers the agents are instructed to emit. They are matched once, where the reply is
// received, and turned into typed results.
const (
	CaptchaMarker  = "CAPTCHA_DETECTED"
	ApprovedMarker = "FINAL_SUCCESS"
	FixMarker      = "FIX_REQUEST:"
)

// Prompt 表示发送给 LLM 的一次调用（system 指令 + user 内容）。
type Prompt struct {
	Role   string
	System string
	User   string
}

const strategistInstruction = `You are 'The Strategist', a world-class Marketing Analyst for Google Ads.
Your goal is to extract key marketing insights from a client's website content to build a high-performing ad campaign.

### PROTOCOL
- If the supplied content is a CAPTCHA page, a bot challenge, an access-denied notice or otherwise contains no real website content, do NOT guess. Reply with exactly:
  ` + CaptchaMarker + `: <one sentence explaining what you saw>
- Content marked as supplied by the operator from a document is a valid website source.

### ANALYSIS GOALS
1. Unique Selling Proposition (usp): what makes this product/service special? Max 2 sentences.
2. Target Audience (audience): who are we talking to?
3. Tone of Voice (tone): Professional, Playful, Urgent, etc.
4. Keywords (keywords): 5-7 high-relevance keywords for Google Search.

### LANGUAGE
Regardless of the website's language, WRITE THE BRIEF IN ENGLISH. Translate all insights and keywords.

### OUTPUT FORMAT
Return strict JSON only:
{"usp": "...", "audience": "...", "tone": "...", "keywords": ["...", "..."]}`

const copywriterInstruction = `You are 'The Copywriter', an expert in Direct Response Marketing for Google Ads.
Write high-converting Responsive Search Ad assets based on the Strategist's brief.

### OUTPUT REQUIREMENTS
1. headlines: exactly 15 headlines, MAX 30 characters each. Focus on benefits, keywords and calls to action.
2. descriptions: exactly 4 descriptions, MAX 90 characters each. Expand the USP and social proof.

### EDITORIAL POLICY
- No exclamation marks in headlines.
- No ALL CAPS text (acronyms of up to 4 characters are fine in headlines).
- No repeated punctuation such as "!!", "??" or "...".
- Every headline must be unique.

### TONE
- Use the tone from the brief. Be punchy, use active verbs. No fluff: every character costs money.
- Write ALL assets in ENGLISH.

### OUTPUT FORMAT
Return strict JSON only:
{"headlines": ["...", "..."], "descriptions": ["...", "..."]}`

const reviewerInstruction = `You are 'The Compliance Officer'. You review Google Ads assets that already passed the automated length, capitalization, punctuation and uniqueness checks.
Check them against Google Ads editorial policy: no clickbait ("click here", "buy now"), no unverifiable superlatives ("best", "#1") without support, no misleading claims.

### PROTOCOL
- If every asset is acceptable reply with exactly: ` + ApprovedMarker + `
- Otherwise reply with "` + FixMarker + `" followed by one line per problem, citing the asset type, its 1-based index and the text.`

// BuildAnalysisPrompt 生成 Strategist 的分析提示词。
func BuildAnalysisPrompt(origin, content string, fromDocument bool) Prompt {
	var sb strings.Builder
	if fromDocument {
		sb.WriteString("The following content was supplied by the operator from a document of the website's homepage.\n")
		sb.WriteString("Treat it as the valid website source.\n\n")
	} else {
		sb.WriteString(fmt.Sprintf("Website: %s\n", origin))
		sb.WriteString("Analyze this text and generate a brief.\n\n")
	}
	sb.WriteString("CONTENT:\n")
	sb.WriteString(content)

	return Prompt{Role: RoleStrategist, System: strategistInstruction, User: sb.String()}
}

// RemoteAnalysisInput is the single text input the managed strategist engine expects.
func RemoteAnalysisInput(content string, limit int) string {
	if r := []rune(content); limit > 0 && len(r) > limit {
		content = string(r[:limit])
	}
	return "Analyze this text and generate a brief: " + content
}

// BuildInitialPrompt 生成首稿提示词。
func BuildInitialPrompt(brief Brief) Prompt {
	var sb strings.Builder
	sb.WriteString("Here is the brief:\n")
	sb.WriteString(mustJSON(brief))
	sb.WriteString(fmt.Sprintf("\n\nWrite exactly %d headlines and %d descriptions.", HeadlineCount, DescriptionCount))

	return Prompt{Role: RoleCopywriter, System: copywriterInstruction, User: sb.String()}
}

// BuildRepairPrompt 生成修订提示词：只携带上一轮稿件与本轮反馈，不累积更早的历史。
func BuildRepairPrompt(brief Brief, prev *Draft, feedback string) Prompt {
	var sb strings.Builder
	sb.WriteString("Here is the brief:\n")
	sb.WriteString(mustJSON(brief))
	if prev != nil {
		sb.WriteString("\n\nYour previous assets:\n")
		sb.WriteString(mustJSON(prev))
	}
	sb.WriteString("\n\nFix these specific errors:\n")
	sb.WriteString(feedback)
	sb.WriteString(fmt.Sprintf("\n\nOutput the full corrected JSON with exactly %d headlines and %d descriptions.", HeadlineCount, DescriptionCount))

	return Prompt{Role: RoleCopywriter, System: copywriterInstruction, User: sb.String()}
}

// BuildReviewPrompt 生成合规审查提示词。
func BuildReviewPrompt(draft Draft) Prompt {
	return Prompt{
		Role:   RoleReviewer,
		System: reviewerInstruction,
		User:   "Validate: " + mustJSON(draft),
	}
}

func mustJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
