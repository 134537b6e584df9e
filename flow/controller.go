// Package flow drives the data-entry page: selecting a class fetches its
// pupils and fills the side panel, selecting a pupil fills the form.
package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/net/html"
	"pupilform-server-go/dom"
	"pupilform-server-go/models"
)

// State of the selection flow
type State int

const (
	Idle State = iota
	Loading
	ListShown
	FormShown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case ListShown:
		return "list"
	case FormShown:
		return "form"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrSuperseded is returned for a fetch that finished after a newer
	// class selection had started; its result is dropped.
	ErrSuperseded = errors.New("class selection superseded by a newer one")
	// ErrNoData is returned when the server answered without a pupil list
	ErrNoData = errors.New("response contains no pupil list")
)

// Fetcher loads the dataset of a class
type Fetcher interface {
	FetchPupils(ctx context.Context, year int, klass string) (*models.Dataset, error)
}

// Controller owns one page and the dataset last fetched for it. It is
// safe for concurrent use; the fetch itself runs without holding the lock.
type Controller struct {
	mu      sync.Mutex
	fetcher Fetcher
	year    int

	doc    *dom.Document
	panel  *dom.Panel
	cover  *dom.Panel
	form   *html.Node
	list   *html.Node
	klass  *html.Node
	status *html.Node

	state   State
	dataset *models.Dataset
	seq     uint64 // token of the latest class selection
}

// New binds a controller to doc, which must contain the page's element ids
func New(fetcher Fetcher, year int, doc *dom.Document) (*Controller, error) {
	c := &Controller{fetcher: fetcher, year: year, doc: doc}
	for id, dst := range map[string]**html.Node{
		dom.IDDataForm:    &c.form,
		dom.IDPupilList:   &c.list,
		dom.IDClassSelect: &c.klass,
		dom.IDStatus:      &c.status,
	} {
		n, err := doc.ElementByID(id)
		if err != nil {
			return nil, err
		}
		*dst = n
	}
	side, err := doc.ElementByID(dom.IDSidePanel)
	if err != nil {
		return nil, err
	}
	cover, err := doc.ElementByID(dom.IDCover)
	if err != nil {
		return nil, err
	}
	c.panel = dom.NewPanel(side, dom.DisplayBlock)
	c.cover = dom.NewPanel(cover, dom.DisplayFlex)
	return c, nil
}

// OnClassSelected clears the form, shows the busy cover and fetches the
// pupils of klass. Only the latest selection may replace the cached
// dataset; an older one finishing late returns ErrSuperseded. On failure
// the cover is removed and the error is shown in the status line.
func (c *Controller) OnClassSelected(ctx context.Context, klass string) error {
	c.mu.Lock()
	dom.ResetForm(c.form)
	dom.SelectOption(c.klass, klass)
	dom.SetText(c.status, "")
	c.cover.Open()
	c.state = Loading
	c.seq++
	token := c.seq
	c.mu.Unlock()

	ds, err := c.fetcher.FetchPupils(ctx, c.year, klass)
	if err == nil && ds.PupilList == nil {
		err = ErrNoData
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.seq {
		log.Printf("Dropping pupils of class %s: a newer selection is pending", klass)
		return ErrSuperseded
	}
	c.cover.Close()
	if err != nil {
		log.Printf("Error fetching pupils of class %s: %v", klass, err)
		c.state = Idle
		dom.SetText(c.status, fmt.Sprintf("Schülerliste für Klasse %s konnte nicht geladen werden", klass))
		return fmt.Errorf("fetch pupils of class %s: %w", klass, err)
	}

	c.dataset = ds
	if err := dom.RenderList(c.list, ds.PupilList); err != nil {
		c.state = Idle
		return err
	}
	c.state = ListShown
	return nil
}

// OnPupilSelected fills the form with the cached record of pid and closes
// the panel. An unknown pid yields a form with empty values.
func (c *Controller) OnPupilSelected(pid string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fields []models.Pair
	var rec models.Record
	if c.dataset != nil {
		fields = c.dataset.Fields
		rec = c.dataset.PupilData[pid]
	}
	if err := dom.RenderForm(c.form, fields, rec); err != nil {
		return err
	}
	c.panel.Close()
	c.state = FormShown
	return nil
}

// ClearForm resets the form to its empty state
func (c *Controller) ClearForm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	dom.ResetForm(c.form)
	c.state = Idle
}

// PopulateClasses fills the class selector
func (c *Controller) PopulateClasses(classes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dom.RenderOptions(c.klass, classes, nil)
}

// HasClasses reports whether the class selector has been filled
func (c *Controller) HasClasses() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.klass.FirstChild != nil
}

// OpenPanel shows the pupil list
func (c *Controller) OpenPanel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panel.Open()
}

// ClosePanel hides the pupil list
func (c *Controller) ClosePanel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panel.Close()
}

// TogglePanel shows or hides the pupil list
func (c *Controller) TogglePanel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.panel.Toggle()
}

// PanelOpen reports whether the pupil list is shown
func (c *Controller) PanelOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panel.IsOpen()
}

// Busy reports whether the busy cover is shown
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cover.IsOpen()
}

// State returns the current flow state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dataset returns the cached dataset, nil before the first fetch
func (c *Controller) Dataset() *models.Dataset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataset
}

// Render writes the current page
func (c *Controller) Render(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Render(w)
}
