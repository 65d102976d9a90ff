// Package render turns portal pages and sync records into terminal and file output.
package render

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// CleanHTML removes unwanted elements and attributes. Form fields are kept
// as "NAME: value" lines since they carry the order data.
func CleanHTML(htmlContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	doc.Find("input[name]").Each(func(_ int, s *goquery.Selection) {
		kind := strings.ToLower(s.AttrOr("type", "text"))
		if kind == "password" || kind == "submit" || kind == "button" || kind == "image" {
			return
		}
		name := s.AttrOr("name", "")
		value := s.AttrOr("value", "")
		s.ReplaceWithHtml("<p><code>" + html.EscapeString(name) + "</code>: " + html.EscapeString(value) + "</p>")
	})

	// Unwrap forms instead of dropping them along with their fields
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		s.Contents().Unwrap()
	})

	doc.Find("script, style, link, meta, noscript, iframe, frame, svg, input, button, select, textarea, canvas").Remove()

	// Clean attributes
	doc.Find("*").Each(func(i int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		node := s.Nodes[0]
		var newAttrs []html.Attribute
		for _, attr := range node.Attr {
			keep := false
			switch node.Data {
			case "a":
				keep = attr.Key == "href" || attr.Key == "title"
			case "img":
				keep = attr.Key == "src" || attr.Key == "alt" || attr.Key == "title"
			}
			if keep {
				newAttrs = append(newAttrs, attr)
			}
		}
		node.Attr = newAttrs
	})

	htmlStr, err := doc.Html()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(htmlStr), nil
}
