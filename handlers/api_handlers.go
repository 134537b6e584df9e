package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"pupilform-server-go/db"
	"pupilform-server-go/models"
)

// PupilStore is the part of db.RedisService the handlers use
type PupilStore interface {
	Dataset(ctx context.Context, req models.PupilsRequest) (*models.Dataset, error)
	GetClasses(ctx context.Context, year int, stream string) ([]string, error)
	ClassExists(ctx context.Context, year int, klass string) (bool, error)
	GetStreams(ctx context.Context, year int, klass string) ([]string, error)
	GetPupil(ctx context.Context, year int, pid string) (*models.Pupil, error)
	AddPupil(ctx context.Context, year int, rec models.Record) error
	UpdatePupil(ctx context.Context, year int, pid string, changes models.Record) error
	RemovePupil(ctx context.Context, year int, pid string) error
	ImportPupilsFromExcel(ctx context.Context, file io.Reader, year int, klass string) (int, error)
}

// APIHandler holds the dependencies for API handlers, like the pupil store
type APIHandler struct {
	Store PupilStore
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(store PupilStore) *APIHandler {
	return &APIHandler{
		Store: store,
	}
}

// Register adds the JSON routes to the router
func (h *APIHandler) Register(router gin.IRouter) {
	router.POST("/core/pupils", h.Pupils)

	api := router.Group("/api")
	{
		api.GET("/years/:year/classes", h.GetClasses)
		api.GET("/years/:year/classes/:klass/streams", h.GetStreams)

		api.POST("/years/:year/pupils", h.AddPupil)
		api.GET("/years/:year/pupils/:pid", h.GetPupil)
		api.PATCH("/years/:year/pupils/:pid", h.UpdatePupil)
		api.DELETE("/years/:year/pupils/:pid", h.RemovePupil)

		api.POST("/import/pupils", h.ImportPupils)

		api.GET("/ping", PingHandler)
	}
}

func yearParam(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid school year"})
		return 0, false
	}
	return year, true
}

// --- Dataset Handler ---

// Pupils handles POST /core/pupils
func (h *APIHandler) Pupils(c *gin.Context) {
	var req models.PupilsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	exists, err := h.Store.ClassExists(c.Request.Context(), req.Year, req.Klass)
	if err != nil {
		log.Printf("Error checking class in Pupils handler for %s/%d: %v", req.Klass, req.Year, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify class"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Class not found"})
		return
	}

	ds, err := h.Store.Dataset(c.Request.Context(), req)
	if err != nil {
		log.Printf("Error in Pupils handler for %s/%d: %v", req.Klass, req.Year, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve pupils for the class"})
		return
	}
	c.JSON(http.StatusOK, ds)
}

// --- Class Handlers ---

// GetClasses handles GET /api/years/:year/classes[?stream=...]
func (h *APIHandler) GetClasses(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	classes, err := h.Store.GetClasses(c.Request.Context(), year, c.Query("stream"))
	if err != nil {
		log.Printf("Error in GetClasses handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve classes"})
		return
	}
	if classes == nil {
		c.JSON(http.StatusOK, []string{})
		return
	}
	c.JSON(http.StatusOK, classes)
}

// GetStreams handles GET /api/years/:year/classes/:klass/streams
func (h *APIHandler) GetStreams(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	klass := c.Param("klass")
	streams, err := h.Store.GetStreams(c.Request.Context(), year, klass)
	if err != nil {
		log.Printf("Error in GetStreams handler for %s: %v", klass, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve streams"})
		return
	}
	c.JSON(http.StatusOK, streams)
}

// --- Pupil Handlers ---

// AddPupil handles POST /api/years/:year/pupils
func (h *APIHandler) AddPupil(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	var rec models.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if err := h.Store.AddPupil(c.Request.Context(), year, rec); err != nil {
		if errors.Is(err, db.ErrInvalidPupil) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, db.ErrDuplicatePupil) {
			c.JSON(http.StatusConflict, gin.H{"error": "Pupil already exists"})
			return
		}
		log.Printf("Error in AddPupil handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add pupil"})
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// GetPupil handles GET /api/years/:year/pupils/:pid
func (h *APIHandler) GetPupil(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	pid := c.Param("pid")
	p, err := h.Store.GetPupil(c.Request.Context(), year, pid)
	if err != nil {
		log.Printf("Error in GetPupil handler for %s: %v", pid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve pupil"})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Pupil not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdatePupil handles PATCH /api/years/:year/pupils/:pid
func (h *APIHandler) UpdatePupil(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	pid := c.Param("pid")
	var changes models.Record
	if err := c.ShouldBindJSON(&changes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	err := h.Store.UpdatePupil(c.Request.Context(), year, pid, changes)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, db.ErrUnknownPupil):
		c.JSON(http.StatusNotFound, gin.H{"error": "Pupil not found"})
	case errors.Is(err, db.ErrPIDChange), errors.Is(err, db.ErrInvalidPupil):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("Error in UpdatePupil handler for %s: %v", pid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update pupil"})
	}
}

// RemovePupil handles DELETE /api/years/:year/pupils/:pid
func (h *APIHandler) RemovePupil(c *gin.Context) {
	year, ok := yearParam(c)
	if !ok {
		return
	}
	pid := c.Param("pid")
	err := h.Store.RemovePupil(c.Request.Context(), year, pid)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, db.ErrUnknownPupil):
		c.JSON(http.StatusNotFound, gin.H{"error": "Pupil not found"})
	default:
		log.Printf("Error in RemovePupil handler for %s: %v", pid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove pupil"})
	}
}

// --- Import Handler ---

// ImportPupils handles POST /api/import/pupils
func (h *APIHandler) ImportPupils(c *gin.Context) {
	year, err := strconv.Atoi(c.PostForm("year"))
	if err != nil || year <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Missing or invalid 'year' in form data"})
		return
	}
	klass := c.PostForm("klass") // optional, overrides the CLASS column

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		log.Printf("Error getting form file: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "Error retrieving uploaded file: " + err.Error()})
		return
	}
	defer file.Close()

	log.Printf("Received file upload: %s for year %d", header.Filename, year)

	imported, err := h.Store.ImportPupilsFromExcel(c.Request.Context(), file, year, klass)
	if err != nil {
		log.Printf("Error importing pupils from file %s: %v", header.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to import pupils: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Import successful",
		"importedCount": imported,
		"year":          year,
	})
}

// --- Ping Handler ---
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Pong!"})
}
