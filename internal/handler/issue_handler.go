package handler

import (
	"context"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/aits-api/internal/dto"
	"github.com/noah-isme/aits-api/internal/middleware"
	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/internal/policy"
	"github.com/noah-isme/aits-api/internal/service"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
	"github.com/noah-isme/aits-api/pkg/response"
)

type issueService interface {
	Create(ctx context.Context, actor policy.Actor, req dto.CreateIssueRequest) (*models.Issue, error)
	Get(ctx context.Context, actor policy.Actor, id string) (*models.Issue, error)
	List(ctx context.Context, actor policy.Actor, filter models.IssueFilter) ([]models.Issue, *models.Pagination, error)
	Assign(ctx context.Context, actor policy.Actor, id string, req dto.AssignIssueRequest) (*models.Issue, error)
	UpdateStatus(ctx context.Context, actor policy.Actor, id string, req dto.UpdateIssueStatusRequest) (*models.Issue, error)
	Edit(ctx context.Context, actor policy.Actor, id string, req dto.UpdateIssueRequest) (*models.Issue, error)
	Delete(ctx context.Context, actor policy.Actor, id string) error
	AttachFile(ctx context.Context, actor policy.Actor, id string, upload dto.AttachmentUpload) (*models.Issue, error)
	AttachmentURL(ctx context.Context, actor policy.Actor, id string) (*dto.AttachmentLink, error)
	OpenAttachment(ctx context.Context, id, token string) (*os.File, string, error)
}

type issueExporter interface {
	Export(ctx context.Context, actor policy.Actor, filter models.IssueFilter, format string) (*service.ExportResult, error)
}

// IssueHandler exposes the issue lifecycle over HTTP.
type IssueHandler struct {
	service  issueService
	exporter issueExporter
}

// NewIssueHandler constructs an IssueHandler.
func NewIssueHandler(svc issueService, exporter issueExporter) *IssueHandler {
	return &IssueHandler{service: svc, exporter: exporter}
}

// List godoc
// @Summary List issues
// @Description Students see their own issues, lecturers assigned (or department) issues, registrars all
// @Tags Issues
// @Produce json
// @Param status query string false "open|in_progress|resolved|declined"
// @Param category query string false "Issue category"
// @Param priority query string false "low|medium|high"
// @Param search query string false "Title or description search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Param sort query string false "created_at|updated_at|priority|status|title"
// @Param order query string false "asc|desc"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Security BearerAuth
// @Router /issues [get]
func (h *IssueHandler) List(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), actor, issueFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, middleware.Meta(c))
}

// Create godoc
// @Summary Submit issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param payload body dto.CreateIssueRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /issues [post]
func (h *IssueHandler) Create(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.CreateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid issue payload"))
		return
	}
	issue, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, issue)
}

// Get godoc
// @Summary Get issue
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /issues/{id} [get]
func (h *IssueHandler) Get(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	issue, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// Update godoc
// @Summary Edit issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body dto.UpdateIssueRequest true "Fields to change"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /issues/{id} [patch]
func (h *IssueHandler) Update(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid issue payload"))
		return
	}
	issue, err := h.service.Edit(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// Delete godoc
// @Summary Delete issue
// @Tags Issues
// @Param id path string true "Issue ID"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /issues/{id} [delete]
func (h *IssueHandler) Delete(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateStatus godoc
// @Summary Change issue status
// @Description Resolved and declined are terminal
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body dto.UpdateIssueStatusRequest true "New status"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /issues/{id}/status [patch]
func (h *IssueHandler) UpdateStatus(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.UpdateIssueStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid status payload"))
		return
	}
	issue, err := h.service.UpdateStatus(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// Assign godoc
// @Summary Assign lecturer
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path string true "Issue ID"
// @Param payload body dto.AssignIssueRequest true "Lecturer"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /issues/{id}/assign [patch]
func (h *IssueHandler) Assign(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	var req dto.AssignIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "invalid assignment payload"))
		return
	}
	issue, err := h.service.Assign(c.Request.Context(), actor, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// Attach godoc
// @Summary Upload attachment
// @Tags Issues
// @Accept mpfd
// @Produce json
// @Param id path string true "Issue ID"
// @Param file formData file true "Attachment"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /issues/{id}/attachment [post]
func (h *IssueHandler) Attach(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Field("file", "file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable upload"))
		return
	}
	defer file.Close()

	issue, err := h.service.AttachFile(c.Request.Context(), actor, c.Param("id"), dto.AttachmentUpload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Content:     file,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// AttachmentURL godoc
// @Summary Signed attachment link
// @Tags Issues
// @Produce json
// @Param id path string true "Issue ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /issues/{id}/attachment/url [get]
func (h *IssueHandler) AttachmentURL(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	link, err := h.service.AttachmentURL(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download attachment
// @Description Authenticated by the signed token from the attachment URL endpoint
// @Tags Issues
// @Produce octet-stream
// @Param id path string true "Issue ID"
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /issues/{id}/attachment/download [get]
func (h *IssueHandler) Download(c *gin.Context) {
	file, name, err := h.service.OpenAttachment(c.Request.Context(), c.Param("id"), c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		response.Error(c, err)
		return
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, map[string]string{
		"Content-Disposition": `attachment; filename="` + name + `"`,
		"Cache-Control":       "no-store",
	})
}

// Export godoc
// @Summary Export issues
// @Description Registrar-only CSV or PDF rendering of the filtered issue list
// @Tags Issues
// @Produce text/csv,application/pdf
// @Param format query string false "csv|pdf"
// @Param status query string false "Status filter"
// @Param category query string false "Category filter"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /issues/export [get]
func (h *IssueHandler) Export(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		return
	}
	res, err := h.exporter.Export(c.Request.Context(), actor, issueFilterFromQuery(c), c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, res.Filename, res.ContentType, res.Data)
}
