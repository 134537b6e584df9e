package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"pupilform-server-go/flow"
)

// SessionCookie names the cookie carrying the page session id
const SessionCookie = "pupils_session"

const pagePath = "/pupils"

// ClassLister supplies the class selector
type ClassLister interface {
	GetClasses(ctx context.Context, year int, stream string) ([]string, error)
}

// PageHandler serves the data-entry page. Every action posts a form,
// updates the session's controller and redirects back to the page.
type PageHandler struct {
	Sessions *SessionStore
	Classes  ClassLister
	Year     int
}

// NewPageHandler creates a new PageHandler
func NewPageHandler(sessions *SessionStore, classes ClassLister, year int) *PageHandler {
	return &PageHandler{Sessions: sessions, Classes: classes, Year: year}
}

// Register adds the page routes to the router
func (h *PageHandler) Register(router gin.IRouter) {
	router.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, pagePath) })

	page := router.Group(pagePath)
	{
		page.GET("", h.Show)
		page.POST("/klass", h.SelectClass)
		page.POST("/pupil", h.SelectPupil)
		page.POST("/panel", h.TogglePanel)
		page.POST("/clear", h.ClearForm)
	}
}

func (h *PageHandler) controller(c *gin.Context) (*flow.Controller, bool) {
	id, _ := c.Cookie(SessionCookie)
	newID, ctrl, err := h.Sessions.Get(id)
	if err != nil {
		log.Printf("Error creating page session: %v", err)
		c.String(http.StatusInternalServerError, "Failed to create page")
		return nil, false
	}
	if newID != id {
		c.SetSameSite(http.SameSiteStrictMode)
		c.SetCookie(SessionCookie, newID, 0, "/", "", false, true)
	}
	return ctrl, true
}

func (h *PageHandler) backToPage(c *gin.Context) {
	c.Redirect(http.StatusSeeOther, pagePath)
}

// Show handles GET /pupils
func (h *PageHandler) Show(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if !ctrl.HasClasses() {
		classes, err := h.Classes.GetClasses(c.Request.Context(), h.Year, "")
		if err != nil {
			log.Printf("Error loading classes for year %d: %v", h.Year, err)
		} else {
			ctrl.PopulateClasses(classes)
		}
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if err := ctrl.Render(c.Writer); err != nil {
		log.Printf("Error rendering page: %v", err)
	}
}

// SelectClass handles POST /pupils/klass
func (h *PageHandler) SelectClass(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	klass := c.PostForm("klass")
	if klass == "" {
		h.backToPage(c)
		return
	}
	if err := ctrl.OnClassSelected(c.Request.Context(), klass); err != nil && !errors.Is(err, flow.ErrSuperseded) {
		log.Printf("Class selection %s failed: %v", klass, err)
	}
	h.backToPage(c)
}

// SelectPupil handles POST /pupils/pupil
func (h *PageHandler) SelectPupil(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if err := ctrl.OnPupilSelected(c.PostForm("pid")); err != nil {
		log.Printf("Pupil selection failed: %v", err)
	}
	h.backToPage(c)
}

// TogglePanel handles POST /pupils/panel
func (h *PageHandler) TogglePanel(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	ctrl.TogglePanel()
	h.backToPage(c)
}

// ClearForm handles POST /pupils/clear
func (h *PageHandler) ClearForm(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	ctrl.ClearForm()
	h.backToPage(c)
}
