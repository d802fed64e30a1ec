package resolver

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var dateFields = []string{"date", "from", "to"}

var relativeDays = map[string]int{
	"today":     0,
	"yesterday": -1,
	"tomorrow":  1,
	"오늘":        0,
	"어제":        -1,
	"내일":        1,
	"모레":        2,
	"그저께":       -2,
	"그제":        -2,
}

var reparseLayouts = []string{
	dateLayout,
	"2006/01/02",
	"2006.01.02",
	"20060102",
}

var monthDay = regexp.MustCompile(`^(\d{1,2})\s*월\s*(\d{1,2})\s*일$`)

// normalizeDates rewrites known date fields in place. Values that cannot be
// understood are left as given.
func normalizeDates(params map[string]any, now time.Time) {
	for _, f := range dateFields {
		raw, ok := params[f].(string)
		if !ok {
			continue
		}
		if d, ok := normalizeDate(raw, now); ok {
			params[f] = d
		}
	}
}

func normalizeDate(raw string, now time.Time) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if offset, ok := relativeDays[strings.ToLower(s)]; ok {
		return now.AddDate(0, 0, offset).Format(dateLayout), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(now.Location()).Format(dateLayout), true
	}
	for _, layout := range reparseLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t.Format(dateLayout), true
		}
	}
	if m := monthDay.FindStringSubmatch(s); m != nil {
		month, _ := strconv.Atoi(m[1])
		day, _ := strconv.Atoi(m[2])
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return "", false
		}
		t := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, now.Location())
		if t.Day() != day {
			return "", false
		}
		return t.Format(dateLayout), true
	}
	return "", false
}
