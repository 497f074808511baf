package timestamps

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MinAlbumTimestamps is the number of distinct timestamps a description
// needs before it is considered a tracklist.
const MinAlbumTimestamps = 3

// timestampPattern matches MM:SS or H:MM:SS, optionally wrapped in () or [].
var timestampPattern = regexp.MustCompile(`[\(\[]?\b(?:(\d{1,2}):)?(\d{1,2}):(\d{2})\b[\)\]]?`)

// separators trimmed from both ends of a title
const separators = " \t-–—|:•·~*>"

// Span is a candidate track inside a larger audio asset.
// End is nil when the span runs to the end of the file.
type Span struct {
	Start float64  `json:"start"`
	End   *float64 `json:"end,omitempty"`
	Title string   `json:"title"`
}

// Duration returns the span length, or nil when it runs to end of file.
func (s Span) Duration() *float64 {
	if s.End == nil {
		return nil
	}
	d := *s.End - s.Start
	return &d
}

type match struct {
	seconds int
	title   string
}

// Parse extracts spans from free text. total, when non-nil, is the asset
// duration used as the final span's end; spans starting at or past it are dropped.
func Parse(text string, total *float64) []Span {
	matches := scan(text)
	if len(matches) == 0 {
		return nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].seconds < matches[j].seconds
	})

	spans := make([]Span, 0, len(matches))
	seen := make(map[int]bool, len(matches))
	for _, m := range matches {
		if seen[m.seconds] {
			continue
		}
		seen[m.seconds] = true
		if total != nil && float64(m.seconds) >= *total {
			continue
		}
		spans = append(spans, Span{Start: float64(m.seconds), Title: m.title})
	}

	return Complete(spans, total)
}

// Complete fills in what an ordered span list leaves open. A missing end
// becomes the next span's start, or total for the last span when total is
// known. Titles are normalized and empty ones become "Track NN".
func Complete(spans []Span, total *float64) []Span {
	out := make([]Span, len(spans))
	copy(out, spans)
	for i := range out {
		out[i].Title = NormalizeTitle(out[i].Title)
		if out[i].Title == "" {
			out[i].Title = fmt.Sprintf("Track %02d", i+1)
		}
		if out[i].End != nil {
			continue
		}
		if i+1 < len(out) {
			end := out[i+1].Start
			out[i].End = &end
		} else if total != nil {
			end := *total
			out[i].End = &end
		}
	}
	return out
}

// CountDistinct returns the number of distinct valid timestamps in text.
func CountDistinct(text string) int {
	seen := make(map[int]bool)
	for _, m := range scan(text) {
		seen[m.seconds] = true
	}
	return len(seen)
}

// HasTimestamps reports whether text carries enough distinct timestamps to be a tracklist.
func HasTimestamps(text string) bool {
	return CountDistinct(text) >= MinAlbumTimestamps
}

// Format renders seconds as MM:SS, or H:MM:SS from one hour upwards.
func Format(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// Render writes spans back out as "MM:SS title" lines.
func Render(spans []Span) string {
	var b strings.Builder
	for i, s := range spans {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(Format(s.Start))
		b.WriteByte(' ')
		b.WriteString(s.Title)
	}
	return b.String()
}

// NormalizeTitle trims, collapses whitespace and strips dash-like separators.
func NormalizeTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	return strings.Trim(title, separators)
}

func scan(text string) []match {
	var out []match
	for _, line := range strings.Split(text, "\n") {
		locs := timestampPattern.FindAllStringSubmatchIndex(line, -1)
		prevEnd := 0
		for i, loc := range locs {
			seconds, ok := toSeconds(line, loc)
			if !ok {
				continue
			}

			next := len(line)
			if i+1 < len(locs) {
				next = locs[i+1][0]
			}
			title := NormalizeTitle(line[loc[1]:next])
			if title == "" {
				// "Song Name 3:15" style: the title precedes the timestamp
				title = NormalizeTitle(line[prevEnd:loc[0]])
			}
			prevEnd = loc[1]

			out = append(out, match{seconds: seconds, title: title})
		}
	}
	return out
}

func toSeconds(line string, loc []int) (int, bool) {
	group := func(n int) (int, bool) {
		start, end := loc[2*n], loc[2*n+1]
		if start < 0 {
			return 0, false
		}
		v, err := strconv.Atoi(line[start:end])
		return v, err == nil
	}

	hours, hasHours := group(1)
	minutes, _ := group(2)
	seconds, _ := group(3)

	if seconds >= 60 {
		return 0, false
	}
	if hasHours && minutes >= 60 {
		return 0, false
	}
	return hours*3600 + minutes*60 + seconds, true
}
