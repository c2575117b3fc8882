package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/internal/policy"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
	"github.com/noah-isme/aits-api/pkg/export"
)

const exportPageSize = 100

// Export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type issueLister interface {
	List(ctx context.Context, filter models.IssueFilter) ([]models.Issue, int, error)
}

// ExportResult is a rendered document ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportService renders filtered issue listings as CSV or PDF.
type ExportService struct {
	issues    issueLister
	policy    authorizer
	renderers map[string]export.Renderer
	logger    *zap.Logger
	now       func() time.Time
}

// NewExportService constructs an ExportService. Nil renderers fall back to
// the default CSV and PDF exporters.
func NewExportService(issues issueLister, authz authorizer, logger *zap.Logger, renderers ...export.Renderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if authz == nil {
		authz = policy.Default()
	}
	if len(renderers) == 0 {
		renderers = []export.Renderer{export.NewCSVExporter(), export.NewPDFExporter()}
	}
	byExt := make(map[string]export.Renderer, len(renderers))
	for _, r := range renderers {
		byExt[r.Extension()] = r
	}
	return &ExportService{
		issues:    issues,
		policy:    authz,
		renderers: byExt,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Export renders every issue matching filter in the requested format.
func (s *ExportService) Export(ctx context.Context, actor policy.Actor, filter models.IssueFilter, format string) (*ExportResult, error) {
	if err := s.policy.Authorize(actor, policy.ActionExport, nil).Err(); err != nil {
		return nil, err
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Field("format", fmt.Sprintf("unsupported export format %q", format))
	}

	s.policy.ScopeFilter(actor, &filter)
	issues, err := s.collect(ctx, filter)
	if err != nil {
		return nil, err
	}

	dataset := issueDataset(issues, s.now())
	payload, err := renderer.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	s.logger.Info("issues exported", zap.String("actor_id", actor.UserID), zap.String("format", format), zap.Int("rows", len(issues)))
	return &ExportResult{
		Filename:    fmt.Sprintf("issues_%s.%s", s.now().Format("20060102_150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Data:        payload,
		Rows:        len(issues),
	}, nil
}

func (s *ExportService) collect(ctx context.Context, filter models.IssueFilter) ([]models.Issue, error) {
	filter.PageSize = exportPageSize
	var all []models.Issue
	for page := 1; ; page++ {
		filter.Page = page
		items, total, err := s.issues.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issues")
		}
		all = append(all, items...)
		if len(items) < exportPageSize || len(all) >= total {
			return all, nil
		}
	}
}

func issueDataset(issues []models.Issue, at time.Time) export.Dataset {
	ds := export.Dataset{
		Title:   fmt.Sprintf("Issues report (%s)", at.Format("2006-01-02")),
		Headers: []string{"ID", "Title", "Category", "Status", "Priority", "Student", "Assigned To", "Created", "Resolved"},
		Rows:    make([][]string, 0, len(issues)),
	}
	for _, is := range issues {
		resolved := ""
		if is.ResolvedAt != nil {
			resolved = is.ResolvedAt.Format("2006-01-02")
		}
		ds.Rows = append(ds.Rows, []string{
			is.ID,
			is.Title,
			string(is.Category),
			string(is.Status),
			string(is.Priority),
			is.StudentName,
			deref(is.AssignedToName),
			is.CreatedAt.Format("2006-01-02"),
			resolved,
		})
	}
	return ds
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
