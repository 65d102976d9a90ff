package parser

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

// Strategy names the rule that produced a field value
type Strategy string

const (
	StrategyNone      Strategy = ""
	StrategyInput     Strategy = "input"
	StrategyReversed  Strategy = "input-reversed"
	StrategyAltInput  Strategy = "alternate-input"
	StrategyLabel     Strategy = "label"
	StrategyHeuristic Strategy = "heuristic"
)

// field describes how to find one order attribute on a detail page
type field struct {
	name string
	// input is the portal template's form field name
	input string
	// alternates are other names the same field has carried
	alternates []string
	labels     []string
	// value matches the text after a label; group 1 is the result
	value string
	// window is how many characters may sit between label and value
	window    int
	heuristic *regexp.Regexp

	primary   []*regexp.Regexp
	reversed  []*regexp.Regexp
	alternate []*regexp.Regexp
	labelled  []*regexp.Regexp
}

const (
	addressValue = `([0-9][^:]{2,80}?)(?:\s+(?:City|State|Zip|Phone|County|Apt)\b|\s*,|$)`
	cityValue    = `([A-Za-z][A-Za-z .'-]{1,40}?)(?:\s+(?:State|Zip|Phone|County)\b|\s*,|$)`
	stateValue   = `([A-Za-z]{2})\b`
	zipValue     = `(\d{5}(?:-\d{4})?)\b`
	dateValue    = `(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2})`
	timeValue    = `(\d{1,2}:\d{2}(?:\s*[AaPp]\.?[Mm]\.?)?)`
)

var fields = []*field{
	{
		name:       "address",
		input:      "ADDRESS1",
		alternates: []string{"SITE_ADDRESS", "ServiceAddress", "address", "STREET"},
		labels:     []string{"Service Address", "Site Address", "Street Address", "Address"},
		value:      addressValue,
		heuristic:  regexp.MustCompile(`(?i)\b(\d{1,6}\s+(?:[NSEW]\.?\s+)?[A-Za-z0-9.' ]{2,40}?\s(?:St|Street|Ave|Avenue|Rd|Road|Dr|Drive|Ln|Lane|Blvd|Way|Ct|Court|Hwy|Highway|Pl|Place|Cir|Circle|Pkwy|Trl|Trail)\b\.?)`),
	},
	{
		name:       "city",
		input:      "CITY",
		alternates: []string{"SITE_CITY", "TOWN"},
		labels:     []string{"City"},
		value:      cityValue,
		heuristic:  regexp.MustCompile(`,\s*([A-Za-z][A-Za-z .'-]{1,40}?),\s*[A-Z]{2}\s+\d{5}\b`),
	},
	{
		name:       "state",
		input:      "STATE",
		alternates: []string{"SITE_STATE", "ST"},
		labels:     []string{"State"},
		value:      stateValue,
		heuristic:  regexp.MustCompile(`,\s*([A-Z]{2})\s+\d{5}(?:-\d{4})?\b`),
	},
	{
		name:       "zip",
		input:      "ZIP",
		alternates: []string{"ZIPCODE", "ZIP_CODE", "POSTAL_CODE"},
		labels:     []string{"Zip Code", "Postal Code", "Zip"},
		value:      zipValue,
		window:     10,
		heuristic:  regexp.MustCompile(`\b[A-Z]{2}\s+(\d{5}(?:-\d{4})?)\b`),
	},
	{
		name:       "date",
		input:      "CONFIRM_SCHEDULE_DATE",
		alternates: []string{"confirmScheduleDate", "SCHEDULE_DATE", "SCHED_DATE", "APPT_DATE"},
		labels:     []string{"Confirm Schedule Date", "Confirmed Schedule Date", "Schedule Date", "Scheduled Date", "Appointment Date"},
		value:      dateValue,
		window:     40,
		heuristic:  regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`),
	},
	{
		name:       "time",
		input:      "BEGIN_TIME",
		alternates: []string{"beginTime", "APPT_TIME", "START_TIME", "TIME_WINDOW"},
		labels:     []string{"Begin Time", "Appointment Time", "Start Time", "Time Window", "Arrival Window"},
		value:      timeValue,
		window:     40,
		heuristic:  regexp.MustCompile(`\b(\d{1,2}:\d{2}\s*(?:[AaPp][Mm])?)\b`),
	},
}

func init() {
	for _, f := range fields {
		f.primary = inputPatterns(f.input)
		for _, alt := range f.alternates {
			f.alternate = append(f.alternate, inputPatterns(alt)...)
		}
		f.reversed = []*regexp.Regexp{f.primary[1]}
		f.primary = f.primary[:1]
		gap := ""
		if f.window > 0 {
			gap = fmt.Sprintf(".{0,%d}?", f.window)
		}
		for _, label := range f.labels {
			f.labelled = append(f.labelled, regexp.MustCompile(
				`(?i)\b`+regexp.QuoteMeta(label)+`\b\s*[:#\-]?\s*`+gap+f.value))
		}
	}
}

// inputPatterns returns the name-before-value and value-before-name forms
// of an <input> carrying the given field name.
func inputPatterns(name string) []*regexp.Regexp {
	quoted := regexp.QuoteMeta(name)
	return []*regexp.Regexp{
		regexp.MustCompile(`(?is)<input\b[^>]*?\bname\s*=\s*["']?` + quoted + `\b[^>]*?\bvalue\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>]*))`),
		regexp.MustCompile(`(?is)<input\b[^>]*?\bvalue\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>]*))[^>]*?\bname\s*=\s*["']?` + quoted + `\b`),
	}
}

// firstGroup returns the first non-empty submatch, trimmed
func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if v := strings.Join(strings.Fields(html.UnescapeString(g)), " "); v != "" {
			return v
		}
	}
	return ""
}

func matchAny(patterns []*regexp.Regexp, s string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(s); m != nil {
			if v := firstGroup(m); v != "" {
				return v
			}
		}
	}
	return ""
}

// find runs the strategy chain for one field and stops at the first hit
func (f *field) find(page, text string) (string, Strategy) {
	if v := matchAny(f.primary, page); v != "" {
		return v, StrategyInput
	}
	if v := matchAny(f.reversed, page); v != "" {
		return v, StrategyReversed
	}
	if v := matchAny(f.alternate, page); v != "" {
		return v, StrategyAltInput
	}
	if v := matchAny(f.labelled, text); v != "" {
		return v, StrategyLabel
	}
	if f.heuristic != nil {
		if m := f.heuristic.FindStringSubmatch(text); m != nil {
			if v := firstGroup(m); v != "" {
				return v, StrategyHeuristic
			}
		}
	}
	return "", StrategyNone
}
