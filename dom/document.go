// Package dom holds the data-entry page as an element tree. All changes go
// through explicit element construction, and the tree is serialized with
// html.Render, which escapes every attribute value and text node.
package dom

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element ids the page must provide
const (
	IDSidePanel   = "sidepanel"
	IDCover       = "cover"
	IDDataForm    = "dataform"
	IDPupilList   = "pupillist"
	IDClassSelect = "klass"
	IDStatus      = "status"
)

// FieldRegionClass marks the part of the data form holding generated fields
const FieldRegionClass = "form2"

var (
	// ErrNoElement is returned when an id is missing from the page
	ErrNoElement = errors.New("element not found")
	// ErrNoRegion is returned when a container lacks the region to render into
	ErrNoRegion = errors.New("render region not found")
)

//go:embed page.html
var pageHTML []byte

// Document is one instance of the page
type Document struct {
	Root *html.Node
}

// NewDocument parses a fresh copy of the built-in page
func NewDocument() (*Document, error) {
	return Parse(bytes.NewReader(pageHTML))
}

// Parse reads a page from r
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return &Document{Root: root}, nil
}

// ElementByID returns the element with the given id
func (d *Document) ElementByID(id string) (*html.Node, error) {
	n := Find(d.Root, func(n *html.Node) bool { return Attr(n, "id") == id })
	if n == nil {
		return nil, fmt.Errorf("%w: #%s", ErrNoElement, id)
	}
	return n, nil
}

// Render writes the page as HTML
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.Root)
}

// Find returns the first element below (or at) root matching pred, in
// document order.
func Find(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && pred(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := Find(c, pred); n != nil {
			return n
		}
	}
	return nil
}

// FindAll returns all elements below (or at) root matching pred
func FindAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && pred(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// IsA matches elements by tag
func IsA(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.DataAtom == a }
}

// HasClass matches elements carrying the given class
func HasClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		for _, c := range strings.Fields(Attr(n, "class")) {
			if c == class {
				return true
			}
		}
		return false
	}
}

// Attr returns the value of an attribute, "" if absent
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present
func HasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

// SetAttr sets or adds an attribute
func SetAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr drops an attribute if present
func RemoveAttr(n *html.Node, key string) {
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			attrs = append(attrs, a)
		}
	}
	n.Attr = attrs
}

// Text returns the concatenated text content of n
func Text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// SetText replaces the children of n by a single text node
func SetText(n *html.Node, s string) {
	Clear(n)
	if s != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: s})
	}
}

// Clear removes all children of n
func Clear(n *html.Node) {
	for last := n.LastChild; last != nil; last = n.LastChild {
		n.RemoveChild(last)
	}
}

// Element builds a new element; attrs are key, value pairs
func Element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

// TextElement builds an element holding one text node
func TextElement(a atom.Atom, text string, attrs ...string) *html.Node {
	n := Element(a, attrs...)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}
