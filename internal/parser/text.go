package parser

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// breakAtoms separate text in the normalized rendering. The portal puts
// labels and values in adjacent inline elements as often as in cells.
var breakAtoms = map[atom.Atom]bool{
	atom.Br: true, atom.P: true, atom.Div: true, atom.Tr: true, atom.Td: true,
	atom.Th: true, atom.Li: true, atom.Table: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.Span: true, atom.B: true, atom.Strong: true, atom.Font: true,
	atom.Label: true, atom.Em: true, atom.I: true, atom.A: true,
}

// Normalize renders a page as plain text: tags and script bodies removed,
// entities decoded, and all whitespace collapsed to single spaces.
func Normalize(page string) string {
	z := html.NewTokenizer(strings.NewReader(page))

	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Script || a == atom.Style {
				skip++
			}
			if breakAtoms[a] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if (a == atom.Script || a == atom.Style) && skip > 0 {
				skip--
			}
			if breakAtoms[a] {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}
