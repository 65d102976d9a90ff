package harvest

import (
	"html"
	"regexp"
	"sort"
)

var (
	// detailLinkRe matches links to the order detail page, the only place
	// the portal puts order ids on purpose.
	detailLinkRe = regexp.MustCompile(`(?i)viewservice\.jsp\?(?:[^"'\s<>]*?&)?id=(\d+)`)
	// genericIDRe matches any id parameter carrying an eight digit order number
	genericIDRe = regexp.MustCompile(`[?&]id=(\d{8})\b`)
)

// IDSet is a set of order ids
type IDSet map[string]struct{}

// Add inserts ids and returns how many were new
func (s IDSet) Add(ids ...string) int {
	added := 0
	for _, id := range ids {
		if _, ok := s[id]; !ok {
			s[id] = struct{}{}
			added++
		}
	}
	return added
}

// Has reports whether id is in the set
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ExtractIDs finds order ids in a page. Detail-page links are trusted first;
// the generic id= matcher is consulted only when the page has none, so stray
// eight digit parameters on pages that do list orders are ignored.
func ExtractIDs(page string) []string {
	decoded := html.UnescapeString(page)

	ids := make(IDSet)
	for _, m := range detailLinkRe.FindAllStringSubmatch(decoded, -1) {
		ids.Add(m[1])
	}
	if len(ids) == 0 {
		for _, m := range genericIDRe.FindAllStringSubmatch(decoded, -1) {
			ids.Add(m[1])
		}
	}
	return ids.Sorted()
}
