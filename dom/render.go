package dom

import (
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"pupilform-server-go/models"
)

// FieldIDPrefix is prepended to field keys to form input ids
const FieldIDPrefix = "K_"

// RenderList replaces the items of the container's list by one entry per
// (id, label) pair, in the given order. Each entry is a submit button
// named "pid" carrying the pupil id.
func RenderList(container *html.Node, entries []models.Pair) error {
	ul := Find(container, IsA(atom.Ul))
	if ul == nil {
		return ErrNoRegion
	}
	Clear(ul)
	for _, e := range entries {
		li := Element(atom.Li, "class", "pure-menu-item")
		li.AppendChild(TextElement(atom.Button, e.Label(),
			"type", "submit", "class", "pure-menu-link", "name", "pid", "value", e.Key()))
		ul.AppendChild(li)
	}
	return nil
}

// FormFields pairs field definitions with the values of a record. Missing
// values, or a nil record, give "".
func FormFields(fields []models.Pair, rec models.Record) []models.FormField {
	out := make([]models.FormField, 0, len(fields))
	for _, f := range fields {
		out = append(out, models.FormField{Key: f.Key(), Label: f.Label(), Value: rec[f.Key()]})
	}
	return out
}

// RenderForm replaces the generated region of a form by one labelled text
// input per field, pre-filled from rec.
func RenderForm(form *html.Node, fields []models.Pair, rec models.Record) error {
	region := Find(form, HasClass(FieldRegionClass))
	if region == nil {
		return ErrNoRegion
	}
	Clear(region)
	for _, f := range FormFields(fields, rec) {
		id := FieldIDPrefix + f.Key
		region.AppendChild(TextElement(atom.Label, f.Label, "for", id))
		region.AppendChild(Element(atom.Input, "id", id, "name", f.Key, "type", "text", "value", f.Value))
	}
	return nil
}

// RenderOptions replaces the options of a select. Without labels each
// item is its own text; with labels the item becomes the option value and
// labels[item] its text.
func RenderOptions(sel *html.Node, items []string, labels map[string]string) {
	Clear(sel)
	for _, item := range items {
		if labels != nil {
			sel.AppendChild(TextElement(atom.Option, labels[item], "value", item))
		} else {
			sel.AppendChild(TextElement(atom.Option, item))
		}
	}
}

// SelectOption marks the option with the given value as selected
func SelectOption(sel *html.Node, value string) {
	for _, opt := range FindAll(sel, IsA(atom.Option)) {
		v := Attr(opt, "value")
		if !HasAttr(opt, "value") {
			v = Text(opt)
		}
		if v == value {
			SetAttr(opt, "selected", "")
		} else {
			RemoveAttr(opt, "selected")
		}
	}
}

// ResetForm empties every input and drops select and checkbox states
func ResetForm(form *html.Node) {
	for _, n := range FindAll(form, func(n *html.Node) bool {
		return n.DataAtom == atom.Input || n.DataAtom == atom.Textarea || n.DataAtom == atom.Option
	}) {
		switch n.DataAtom {
		case atom.Input:
			switch Attr(n, "type") {
			case "checkbox", "radio":
				RemoveAttr(n, "checked")
			case "submit", "button", "reset", "hidden":
			default:
				SetAttr(n, "value", "")
			}
		case atom.Textarea:
			Clear(n)
		case atom.Option:
			RemoveAttr(n, "selected")
		}
	}
}
