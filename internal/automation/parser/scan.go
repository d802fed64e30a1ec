package parser

import (
	"strings"
)

const (
	fence       = "```"
	intentKeyID = `"intent_key"`
)

// Limits caps the work done on a single input.
type Limits struct {
	MaxInputBytes   int
	MaxScanBytes    int
	MaxFencedBlocks int
	MaxKeyPositions int
	MaxCandidates   int
	MaxDepth        int
}

// DefaultLimits returns the caps used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxInputBytes:   1 << 20,
		MaxScanBytes:    256 << 10,
		MaxFencedBlocks: 100,
		MaxKeyPositions: 100,
		MaxCandidates:   10,
		MaxDepth:        64,
	}
}

// span is a half-open byte range of the input plus the candidate text it yields.
type span struct {
	start, end int
	content    string
}

// fencedBlocks returns ``` blocks tagged json (or untagged) whose body is an object.
// The whole fenced region, fences included, is reported as the span.
func fencedBlocks(text string, lim Limits) []span {
	var out []span
	pos := 0
	for seen := 0; seen < lim.MaxFencedBlocks; seen++ {
		open := strings.Index(text[pos:], fence)
		if open < 0 {
			break
		}
		open += pos
		bodyStart := open + len(fence)

		lineEnd := strings.IndexByte(text[bodyStart:], '\n')
		var rest string
		if lineEnd < 0 {
			rest = text[bodyStart:]
		} else {
			rest = text[bodyStart : bodyStart+lineEnd]
		}
		tag := strings.TrimSpace(rest)
		isJSON := false
		switch {
		case tag == "" || strings.EqualFold(tag, "json"):
			isJSON = true
			if lineEnd >= 0 {
				bodyStart += lineEnd + 1
			}
		case strings.HasPrefix(tag, "{"):
			// single-line form: ```{"intent_key": ...}```
			isJSON = true
		}

		closeIdx := strings.Index(text[bodyStart:], fence)
		if closeIdx < 0 {
			break
		}
		closeIdx += bodyStart
		end := closeIdx + len(fence)

		if isJSON {
			body := strings.TrimSpace(text[bodyStart:closeIdx])
			if strings.HasPrefix(body, "{") && strings.Contains(body, intentKeyID) && body != "{}" {
				out = append(out, span{start: open, end: end, content: body})
			}
		}
		pos = end
	}
	return out
}

// inlineObjects locates objects around each "intent_key" occurrence: back to the
// enclosing '{' and forward to its matching '}'.
func inlineObjects(text string, lim Limits) []span {
	var out []span
	pos := 0
	for seen := 0; seen < lim.MaxKeyPositions; seen++ {
		idx := strings.Index(text[pos:], intentKeyID)
		if idx < 0 {
			break
		}
		idx += pos
		pos = idx + len(intentKeyID)

		start, ok := enclosingBrace(text, idx, lim)
		if !ok {
			continue
		}
		end, ok := matchBrace(text, start, lim)
		if !ok {
			continue
		}
		out = append(out, span{start: start, end: end + 1, content: text[start : end+1]})
		if end+1 > pos {
			pos = end + 1
		}
	}
	return out
}

// enclosingBrace walks backwards from idx to the '{' that opens the object
// containing idx, skipping balanced nested objects.
func enclosingBrace(text string, idx int, lim Limits) (int, bool) {
	floor := idx - lim.MaxScanBytes
	if floor < 0 {
		floor = 0
	}
	depth := 0
	for i := idx - 1; i >= floor; i-- {
		switch text[i] {
		case '}':
			depth++
			if depth > lim.MaxDepth {
				return 0, false
			}
		case '{':
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}

// matchBrace returns the index of the '}' closing the '{' at start.
// Braces inside JSON strings are ignored and escapes are honoured.
// Scanning stops at MaxScanBytes or MaxDepth.
func matchBrace(text string, start int, lim Limits) (int, bool) {
	limit := start + lim.MaxScanBytes
	if limit > len(text) {
		limit = len(text)
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < limit; i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
			if depth > lim.MaxDepth {
				return 0, false
			}
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// withinDepth reports whether a candidate's nesting stays under the cap.
func withinDepth(s string, lim Limits) bool {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > lim.MaxDepth {
				return false
			}
		case '}', ']':
			depth--
		}
	}
	return true
}

// candidates returns de-duplicated candidate texts, fenced blocks first.
func candidates(text string, lim Limits) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		if len(out) >= lim.MaxCandidates {
			return
		}
		key := strings.Join(strings.Fields(s), " ")
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	for _, sp := range fencedBlocks(text, lim) {
		add(sp.content)
	}
	for _, sp := range inlineObjects(text, lim) {
		add(sp.content)
	}
	return out
}
