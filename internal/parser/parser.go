// Package parser reads order details out of portal detail pages.
package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/fieldops/hnsync/pkg/models"
)

// PoleMountLabel is the task the portal lists for a non-standard pole mount
const PoleMountLabel = "Non-Standard Pole Mount"

const (
	departureComplete   = "departure complete"
	departureIncomplete = "departure incomplete"
	// serviceOrderWindow is how far past "Service Order #" the job type is looked for
	serviceOrderWindow = 120
)

var (
	serviceOrderRe = regexp.MustCompile(`(?i)service\s+order\s*#`)
	jobTypeRe      = regexp.MustCompile(`(?i)\b(install|repair|upgrade)`)
)

// Result is a parsed detail page together with the rule that produced
// each field, which inspect prints.
type Result struct {
	Order   models.ParsedOrder
	Sources map[string]Strategy
}

// Parse extracts an order from a detail page. A page without an address is
// still returned; the caller decides it is not complete.
func Parse(page string) *Result {
	text := Normalize(page)
	res := &Result{Sources: make(map[string]Strategy, len(fields))}

	values := make(map[string]string, len(fields))
	for _, f := range fields {
		v, strategy := f.find(page, text)
		values[f.name] = v
		res.Sources[f.name] = strategy
	}

	jobType, source := classify(page, text)
	res.Sources["type"] = source

	lower := strings.ToLower(text)
	res.Order = models.ParsedOrder{
		Address:             values["address"],
		City:                values["city"],
		State:               strings.ToUpper(values["state"]),
		Zip:                 values["zip"],
		ConfirmScheduleDate: values["date"],
		BeginTime:           values["time"],
		Type:                jobType,
		JobDuration:         jobType.DefaultDuration(),
		HasPoleMount:        strings.Contains(lower, strings.ToLower(PoleMountLabel)),
		DepartureIncomplete: isDepartureIncomplete(lower),
	}
	return res
}

// classify finds the job type near "Service Order #", then in the page
// title region, and defaults to Repair.
func classify(page, text string) (models.JobType, Strategy) {
	if loc := serviceOrderRe.FindStringIndex(text); loc != nil {
		end := loc[1] + serviceOrderWindow
		if end > len(text) {
			end = len(text)
		}
		if t, ok := jobType(text[loc[1]:end]); ok {
			return t, StrategyLabel
		}
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(page)); err == nil {
		title := doc.Find("title, [class*='title'], [class*='Title']").Text()
		if t, ok := jobType(title); ok {
			return t, StrategyHeuristic
		}
	}
	return models.JobRepair, StrategyNone
}

func jobType(region string) (models.JobType, bool) {
	m := jobTypeRe.FindStringSubmatch(region)
	if m == nil {
		return "", false
	}
	switch strings.ToLower(m[1]) {
	case "install":
		return models.JobInstall, true
	case "upgrade":
		return models.JobUpgrade, true
	default:
		return models.JobRepair, true
	}
}

// isDepartureIncomplete is true only when no completion marker follows the
// first incomplete marker.
func isDepartureIncomplete(lower string) bool {
	first := strings.Index(lower, departureIncomplete)
	if first < 0 {
		return false
	}
	return strings.LastIndex(lower, departureComplete) < first
}
