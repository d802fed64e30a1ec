package draft

import (
	"fmt"
	"sort"
	"strings"

	"taskgate/internal/automation/models"
)

var fieldLabels = map[string]string{
	"student_id":                 "which student",
	"student_ids":                "which students",
	"class_id":                   "which class",
	"date":                       "the date (YYYY-MM-DD)",
	"from":                       "the start date (YYYY-MM-DD)",
	"to":                         "the end date (YYYY-MM-DD)",
	"reason":                     "the reason",
	"form_values.name":           "the student's name",
	"form_values.guardian_phone": "the guardian's phone number",
}

func label(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return field
}

// nextQuestion picks one deterministic prompt: ambiguous references first,
// then failed references, then the first missing field.
func nextQuestion(d *models.Draft) string {
	if !d.Status.IsActive() {
		return ""
	}

	amb := models.Ambiguities(d.Params)
	for _, field := range sortedKeys(amb) {
		a := amb[field]
		var b strings.Builder
		fmt.Fprintf(&b, "%q matches more than one record. Which one did you mean?", a.OriginalValue)
		for i, c := range a.Candidates {
			fmt.Fprintf(&b, " %d) %s", i+1, c.Display)
		}
		return b.String()
	}

	fails := models.Failures(d.Params)
	for _, field := range sortedKeys(fails) {
		f := fails[field]
		switch f.Reason {
		case models.ReasonInvalidName:
			return fmt.Sprintf("Please tell me the full name for %s.", label(field))
		case models.ReasonLookupError:
			return fmt.Sprintf("I could not look up %q right now. Please try again.", f.OriginalValue)
		default:
			return fmt.Sprintf("I could not find %q. Please check the name.", f.OriginalValue)
		}
	}

	if len(d.MissingRequired) == 0 {
		return ""
	}
	first := d.MissingRequired[0]
	if group, ok := strings.CutPrefix(first, "one_of:"); ok {
		parts := strings.Split(group, ",")
		labels := make([]string, len(parts))
		for i, p := range parts {
			labels[i] = label(p)
		}
		return "Please provide one of: " + strings.Join(labels, " or ") + "."
	}
	return "Please provide " + label(first) + "."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
