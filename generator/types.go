package generator

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Keyword bounds for a Brief.
const (
	MinKeywords = 5
	MaxKeywords = 7
)

// Asset counts requested from the copywriter (Google Ads RSA format).
const (
	HeadlineCount    = 15
	DescriptionCount = 4
)

// Brief is the strategist's structured read of the source content, always in English.
type Brief struct {
	USP      string   `json:"usp"`
	Audience string   `json:"audience"`
	Tone     string   `json:"tone"`
	Keywords []string `json:"keywords"`
}

// Validate 校验必填字段；关键词多于上限时截断为前 MaxKeywords 个。
func (b *Brief) Validate() error {
	var missing []string
	if strings.TrimSpace(b.USP) == "" {
		missing = append(missing, "usp")
	}
	if strings.TrimSpace(b.Audience) == "" {
		missing = append(missing, "audience")
	}
	if strings.TrimSpace(b.Tone) == "" {
		missing = append(missing, "tone")
	}
	if len(missing) > 0 {
		return fmt.Errorf("brief missing fields: %s", strings.Join(missing, ", "))
	}

	kws := b.Keywords[:0]
	for _, k := range b.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, k)
		}
	}
	if len(kws) < MinKeywords {
		return fmt.Errorf("brief has %d keywords, need at least %d", len(kws), MinKeywords)
	}
	if len(kws) > MaxKeywords {
		kws = kws[:MaxKeywords]
	}
	b.Keywords = kws
	return nil
}

// Draft is one iteration's set of ad assets. Each repair produces a new Draft.
type Draft struct {
	Headlines    []string `json:"headlines"`
	Descriptions []string `json:"descriptions"`
}

// Validate only checks that the record has assets at all; policy checks live in compliance.
func (d *Draft) Validate() error {
	if len(d.Headlines) == 0 {
		return errors.New("draft has no headlines")
	}
	if len(d.Descriptions) == 0 {
		return errors.New("draft has no descriptions")
	}
	return nil
}

// Turn 记录一次 agent 调用（单轮，不跨调用复用）。
type Turn struct {
	Prompt    Prompt
	Reply     string
	Err       string
	CreatedAt time.Time
	Elapsed   time.Duration
}
