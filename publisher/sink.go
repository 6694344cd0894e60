package publisher

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"adgenius/generator"
)

const (
	timestampLayout = "2006-01-02_15-04-05"
	failedSuffix    = "_FAILED"
)

// Label 描述一次持久化：目标网站与是否通过合规检查。未通过的稿件文件名带 _FAILED。
type Label struct {
	Target   string
	Approved bool
}

// Sink persists a draft and returns a locator for what it wrote.
type Sink interface {
	Persist(ctx context.Context, draft generator.Draft, label Label) (artifact string, err error)
}

// Multi fans a draft out to several sinks. The first sink's artifact is returned; every
// sink is attempted and their errors are joined.
type Multi []Sink

func (m Multi) Persist(ctx context.Context, draft generator.Draft, label Label) (string, error) {
	var (
		first string
		errs  []error
	)
	for i, s := range m {
		a, err := s.Persist(ctx, draft, label)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if i == 0 {
			first = a
		}
	}
	return first, errors.Join(errs...)
}

// Row is one exported asset.
type Row struct {
	Type   string
	Text   string
	Length int
}

// Rows lists headlines then descriptions. Length counts characters, not bytes.
func Rows(draft generator.Draft) []Row {
	rows := make([]Row, 0, len(draft.Headlines)+len(draft.Descriptions))
	for _, h := range draft.Headlines {
		rows = append(rows, Row{Type: "Headline", Text: h, Length: utf8.RuneCountInString(h)})
	}
	for _, d := range draft.Descriptions {
		rows = append(rows, Row{Type: "Description", Text: d, Length: utf8.RuneCountInString(d)})
	}
	return rows
}

// EncodeCSV renders the draft with a Type,Text,Length header.
func EncodeCSV(draft generator.Draft) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Type", "Text", "Length"}); err != nil {
		return nil, err
	}
	for _, r := range Rows(draft) {
		if err := w.Write([]string{r.Type, r.Text, strconv.Itoa(r.Length)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Domain extracts the host of target without a leading "www.".
func Domain(target string) string {
	t := strings.TrimSpace(target)
	if !strings.Contains(t, "://") {
		t = "//" + t
	}
	host := t
	if u, err := url.Parse(t); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	} else {
		host = strings.TrimPrefix(host, "//")
		if i := strings.IndexAny(host, "/?#"); i >= 0 {
			host = host[:i]
		}
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	host = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		default:
			return '_'
		}
	}, host)
	if host == "" {
		return "unknown"
	}
	return host
}

// FileName returns ads_<domain>[_FAILED]_<timestamp>.csv.
// maxNameAttempts bounds the _N suffixes tried when a name is already taken.
const maxNameAttempts = 100

// numbered returns name for attempt 1 and name_<i>.csv after that.
func numbered(name string, i int) string {
	if i <= 1 {
		return name
	}
	return fmt.Sprintf("%s_%d.csv", strings.TrimSuffix(name, ".csv"), i)
}

func FileName(label Label, now time.Time) string {
	name := "ads_" + Domain(label.Target)
	if !label.Approved {
		name += failedSuffix
	}
	return fmt.Sprintf("%s_%s.csv", name, now.Format(timestampLayout))
}
