package classify

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractOptions returns the labels of <option> elements and role=option
// nodes found in an element's outer HTML, in document order. Placeholder
// options with an empty value attribute and blank labels are dropped.
func ExtractOptions(outerHTML string) []string {
	if !strings.Contains(outerHTML, "option") {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(outerHTML))
	if err != nil {
		debugLog.Debugf("Failed to parse option markup: %v", err)
		return nil
	}

	var labels []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			isOption := tag == "option" || strings.EqualFold(attr(n, "role"), "option")
			if isOption {
				if tag == "option" && hasAttr(n, "value") && attr(n, "value") == "" {
					return
				}
				if label := optionLabel(n); label != "" {
					labels = append(labels, label)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return labels
}

// ExtractChoices returns the labels of checkbox and radio inputs inside a
// group's outer HTML. A choice's label is the text of its <label for=...>
// or of the label wrapping it, falling back to its value.
func ExtractChoices(outerHTML string) []string {
	if outerHTML == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(outerHTML))
	if err != nil {
		return nil
	}

	forLabels := make(map[string]string)
	var inputs []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "label":
				if id := attr(n, "for"); id != "" {
					forLabels[id] = collapse(text(n))
				}
			case "input":
				typ := strings.ToLower(attr(n, "type"))
				if typ == "checkbox" || typ == "radio" {
					inputs = append(inputs, n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var choices []string
	for _, in := range inputs {
		label := forLabels[attr(in, "id")]
		if label == "" {
			for p := in.Parent; p != nil; p = p.Parent {
				if p.Type == html.ElementNode && strings.EqualFold(p.Data, "label") {
					label = collapse(text(p))
					break
				}
			}
		}
		if label == "" {
			label = attr(in, "value")
		}
		if label != "" {
			choices = append(choices, label)
		}
	}
	return choices
}

func optionLabel(n *html.Node) string {
	if l := collapse(text(n)); l != "" {
		return l
	}
	if l := attr(n, "label"); l != "" {
		return strings.TrimSpace(l)
	}
	return strings.TrimSpace(attr(n, "aria-label"))
}

func text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}
