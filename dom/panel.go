package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// Display values used by the page
const (
	DisplayNone  = "none"
	DisplayBlock = "block"
	DisplayFlex  = "flex"
)

// Panel shows or hides one element through its display style. The side
// panel uses block layout, the busy cover flex layout.
type Panel struct {
	node  *html.Node
	shown string
}

// NewPanel controls node, using shown as the display value when open
func NewPanel(node *html.Node, shown string) *Panel {
	return &Panel{node: node, shown: shown}
}

// Open shows the element
func (p *Panel) Open() { setDisplay(p.node, p.shown) }

// Close hides the element
func (p *Panel) Close() { setDisplay(p.node, DisplayNone) }

// Toggle switches between open and closed
func (p *Panel) Toggle() {
	if p.IsOpen() {
		p.Close()
	} else {
		p.Open()
	}
}

// IsOpen reports whether the element is shown
func (p *Panel) IsOpen() bool { return Display(p.node) == p.shown }

// Display returns the display property of an element's inline style
func Display(n *html.Node) string {
	for _, decl := range strings.Split(Attr(n, "style"), ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(prop) == "display" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

// setDisplay replaces the display property, keeping other declarations
func setDisplay(n *html.Node, val string) {
	decls := []string{}
	for _, decl := range strings.Split(Attr(n, "style"), ";") {
		decl = strings.TrimSpace(decl)
		if decl == "" {
			continue
		}
		if prop, _, ok := strings.Cut(decl, ":"); ok && strings.TrimSpace(prop) == "display" {
			continue
		}
		decls = append(decls, decl)
	}
	decls = append(decls, "display: "+val)
	SetAttr(n, "style", strings.Join(decls, "; "))
}
