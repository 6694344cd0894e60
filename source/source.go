package source

import "fmt"

// Provenance records where a RawContent came from.
type Provenance string

const (
	Scraped  Provenance = "scraped"
	Document Provenance = "document"
	Blocked  Provenance = "blocked"
)

// Defaults taken from production behaviour of the scraper.
const (
	DefaultMinContentChars = 500
	DefaultMaxContentChars = 15000
)

// RawContent 是内容获取的结果。Blocked 时 Text 为空、Reason 说明原因；构造后不再修改。
type RawContent struct {
	Text       string
	Provenance Provenance
	// Origin is the URL or document path the text came from.
	Origin string
	Reason string
}

// Usable reports whether the content can be handed to an analysis backend.
func (c RawContent) Usable() bool {
	return c.Provenance != Blocked && c.Text != ""
}

// String is used in log narration.
func (c RawContent) String() string {
	if c.Provenance == Blocked {
		return fmt.Sprintf("blocked(%s): %s", c.Origin, c.Reason)
	}
	return fmt.Sprintf("%s(%s): %d chars", c.Provenance, c.Origin, len([]rune(c.Text)))
}

func blocked(origin, format string, args ...any) RawContent {
	return RawContent{Provenance: Blocked, Origin: origin, Reason: fmt.Sprintf(format, args...)}
}

// truncate 按 rune 截断，避免切断多字节字符。
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
