package scrap

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// PageSignals what a fetched station page is made of
type PageSignals struct {
	Title     string   // document title, trimmed
	TableRows int      // rows inside table bodies
	Frames    []string // iframe src values
}

// InspectPage walks an HTML document and collects the signals the URL
// probe and the capture auditor look at.
func InspectPage(r io.Reader) (PageSignals, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return PageSignals{}, err
	}

	var sig PageSignals
	var walk func(n *html.Node, inBody bool)
	walk = func(n *html.Node, inBody bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if sig.Title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					sig.Title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "tbody":
				inBody = true
			case "tr":
				if inBody {
					sig.TableRows++
				}
			case "iframe":
				for _, a := range n.Attr {
					if a.Key == "src" && a.Val != "" {
						sig.Frames = append(sig.Frames, a.Val)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inBody)
		}
	}
	walk(doc, false)
	return sig, nil
}

// HasFrameFor reports whether any iframe src mentions the stop id
func (s PageSignals) HasFrameFor(stopID string) bool {
	for _, src := range s.Frames {
		if strings.Contains(src, stopID) {
			return true
		}
	}
	return false
}
