package catalog

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const maxBodyRunes = 20000

// pageContent is the readable text extracted from one HTML document.
type pageContent struct {
	Title       string
	Description string
	Body        string
}

// skipped elements never contribute visible text.
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
}

func extractPage(r io.Reader) (pageContent, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return pageContent{}, err
	}

	var out pageContent
	var body []string
	var walk func(n *html.Node, visible bool)
	walk = func(n *html.Node, visible bool) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if out.Title == "" {
					out.Title = collapse(textOf(n))
				}
			case atom.Meta:
				if strings.EqualFold(attr(n, "name"), "description") || strings.EqualFold(attr(n, "property"), "og:description") {
					if out.Description == "" {
						out.Description = collapse(attr(n, "content"))
					}
				}
			}
			if skipped[n.DataAtom] {
				visible = false
			}
		}
		if visible && n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				body = append(body, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, visible)
		}
	}
	walk(doc, true)

	out.Body = collapse(strings.Join(body, " "))
	if runes := []rune(out.Body); len(runes) > maxBodyRunes {
		out.Body = string(runes[:maxBodyRunes])
	}
	return out, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
