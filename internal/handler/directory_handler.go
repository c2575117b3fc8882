package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/pkg/response"
)

type directoryService interface {
	ListDepartments(ctx context.Context) ([]models.Department, error)
	ListLecturers(ctx context.Context, departmentID string) ([]models.Lecturer, error)
}

// DirectoryHandler lists departments and lecturers.
type DirectoryHandler struct {
	service directoryService
}

// NewDirectoryHandler constructs a DirectoryHandler.
func NewDirectoryHandler(svc directoryService) *DirectoryHandler {
	return &DirectoryHandler{service: svc}
}

// Departments godoc
// @Summary List departments
// @Tags Directory
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /departments [get]
func (h *DirectoryHandler) Departments(c *gin.Context) {
	items, err := h.service.ListDepartments(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Lecturers godoc
// @Summary List lecturers
// @Tags Directory
// @Produce json
// @Param department_id query string false "Department filter"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /lecturers [get]
func (h *DirectoryHandler) Lecturers(c *gin.Context) {
	items, err := h.service.ListLecturers(c.Request.Context(), c.Query("department_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}
