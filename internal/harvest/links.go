package harvest

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/fieldops/hnsync/internal/portal"
)

// Links holds the navigation found on one portal page
type Links struct {
	Menu   []string
	Frames []string
	Next   string
}

var frameSrcRe = regexp.MustCompile(`(?i)<i?frame\b[^>]*?\ssrc\s*=\s*["']?([^"'\s>]+)`)

// nextMarkers are anchor texts the portal uses for its pager
var nextMarkers = map[string]bool{
	"next":      true,
	"next page": true,
	"next >":    true,
	"next >>":   true,
	"next »":    true,
	">":         true,
	">>":        true,
	"»":         true,
}

// ExtractLinks reads menu links, frame sources and the pager link from a
// page. pageURL resolves the pager link, which is relative to the page
// itself; menu links and frames follow the portal's own conventions.
func ExtractLinks(page string, pageURL string, cfg portal.Config) (*Links, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	links := &Links{}
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}

		if links.Next == "" && isNextAnchor(s) {
			links.Next = portal.ResolveURL(pageURL, href)
			return
		}

		if !isMenuHref(href) {
			return
		}
		resolved := cfg.Resolve(href)
		if !seen[resolved] {
			seen[resolved] = true
			links.Menu = append(links.Menu, resolved)
		}
	})

	// Frame tags are matched on the raw markup: an HTML5 parser drops
	// <frame> outside a frameset, and the portal mixes both.
	for _, m := range frameSrcRe.FindAllStringSubmatch(page, -1) {
		src := strings.TrimSpace(html.UnescapeString(m[1]))
		if src == "" || strings.HasPrefix(strings.ToLower(src), "javascript:") || src == "about:blank" {
			continue
		}
		resolved := cfg.ResolveFrame(src)
		if !seen[resolved] {
			seen[resolved] = true
			links.Frames = append(links.Frames, resolved)
		}
	}

	return links, nil
}

// skipHrefs end or replace the session when visited
var skipHrefs = []string{"logout", "logoff", "signoff", "login"}

func isMenuHref(href string) bool {
	lower := strings.ToLower(href)
	if detailLinkRe.MatchString(href) {
		return false
	}
	for _, skip := range skipHrefs {
		if strings.Contains(lower, skip) {
			return false
		}
	}
	return strings.Contains(lower, ".jsp") || strings.Contains(lower, strings.ToLower(portal.SearchModule))
}

func isNextAnchor(s *goquery.Selection) bool {
	text := strings.ToLower(strings.Join(strings.Fields(s.Text()), " "))
	if nextMarkers[text] {
		return true
	}
	if title, ok := s.Attr("title"); ok && nextMarkers[strings.ToLower(strings.TrimSpace(title))] {
		return true
	}
	alt, ok := s.Find("img[alt]").Attr("alt")
	return ok && nextMarkers[strings.ToLower(strings.TrimSpace(alt))]
}

// priority orders candidate pages so the order search module is scanned
// before the rest of the menu
func priority(url string) int {
	lower := strings.ToLower(url)
	switch {
	case strings.Contains(lower, strings.ToLower(portal.SearchModule)):
		return 0
	case strings.Contains(lower, "order") || strings.Contains(lower, "service"):
		return 1
	default:
		return 2
	}
}
