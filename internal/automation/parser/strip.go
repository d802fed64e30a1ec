package parser

import (
	"regexp"
	"sort"
	"strings"
)

var blankRun = regexp.MustCompile(`\n{3,}`)

// StripIntentBlocks removes fenced JSON blocks and inline intent objects so the
// remaining text can be shown to the user. Blank lines left behind collapse to one.
func StripIntentBlocks(text string) string {
	return stripWith(text, DefaultLimits())
}

func stripWith(text string, lim Limits) string {
	if len(text) > lim.MaxInputBytes {
		return text
	}
	spans := append(fencedBlocks(text, lim), inlineObjects(text, lim)...)
	if len(spans) == 0 {
		return text
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, sp := range spans {
		if sp.end <= cursor {
			continue
		}
		if sp.start > cursor {
			b.WriteString(text[cursor:sp.start])
		}
		cursor = sp.end
	}
	b.WriteString(text[cursor:])

	out := blankRun.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out)
}
