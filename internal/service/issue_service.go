package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/aits-api/internal/dto"
	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/internal/policy"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
	"github.com/noah-isme/aits-api/pkg/middleware/requestid"
	"github.com/noah-isme/aits-api/pkg/storage"
	"github.com/noah-isme/aits-api/pkg/validation"
)

const attachmentPrefix = "issue_attachments"

type issueRepository interface {
	Create(ctx context.Context, issue *models.Issue) error
	FindByID(ctx context.Context, id string) (*models.Issue, error)
	List(ctx context.Context, filter models.IssueFilter) ([]models.Issue, int, error)
	Update(ctx context.Context, issue *models.Issue) error
	Delete(ctx context.Context, id string) error
}

type issueUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type notifier interface {
	Notify(ctx context.Context, recipientID string, typ models.NotificationType, issue *models.Issue, message string) (*models.Notification, error)
}

type attachmentStorage interface {
	SaveStream(relPath string, r io.Reader, limit int64) (int64, error)
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
}

type authorizer interface {
	Authorize(actor policy.Actor, action policy.Action, target *models.Issue) policy.Decision
	ScopeFilter(actor policy.Actor, filter *models.IssueFilter)
}

// IssueConfig tunes attachment handling.
type IssueConfig struct {
	APIPrefix          string
	MaxAttachmentBytes int64
	AllowedMIMEs       []string
}

// IssueService owns the issue lifecycle: open and in_progress are active,
// resolved and declined are terminal. Every mutation is authorized first
// and followed by best-effort notification dispatch.
type IssueService struct {
	issues    issueRepository
	users     issueUserRepository
	notifier  notifier
	policy    authorizer
	storage   attachmentStorage
	signer    *storage.SignedURLSigner
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       IssueConfig
	now       func() time.Time
}

// NewIssueService constructs an IssueService.
func NewIssueService(
	issues issueRepository,
	users issueUserRepository,
	notifier notifier,
	authz authorizer,
	store attachmentStorage,
	signer *storage.SignedURLSigner,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg IssueConfig,
) *IssueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validation.New()
	}
	if authz == nil {
		authz = policy.Default()
	}
	if cfg.MaxAttachmentBytes <= 0 {
		cfg.MaxAttachmentBytes = 5 * 1024 * 1024
	}
	return &IssueService{
		issues:    issues,
		users:     users,
		notifier:  notifier,
		policy:    authz,
		storage:   store,
		signer:    signer,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a new issue owned by the acting student.
func (s *IssueService) Create(ctx context.Context, actor policy.Actor, req dto.CreateIssueRequest) (*models.Issue, error) {
	if err := s.policy.Authorize(actor, policy.ActionCreate, nil).Err(); err != nil {
		return nil, err
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid issue payload")
	}

	issue := &models.Issue{
		Title:       req.Title,
		Category:    req.Category,
		Description: req.Description,
		Status:      models.StatusOpen,
		Priority:    models.PriorityForCategory(req.Category),
		CourseUnit:  req.CourseUnit,
		YearOfStudy: req.YearOfStudy,
		Semester:    req.Semester,
		StudentID:   actor.UserID,
	}
	if req.Priority != nil {
		issue.Priority = *req.Priority
	}
	if req.AssignedTo != nil {
		if _, err := s.loadLecturer(ctx, *req.AssignedTo); err != nil {
			return nil, err
		}
		issue.AssignedTo = req.AssignedTo
	}

	if err := s.issues.Create(ctx, issue); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create issue")
	}
	s.reload(ctx, issue)

	s.dispatch(ctx, issue.StudentID, models.NotificationIssueCreated, issue)
	if issue.AssignedTo != nil {
		s.dispatch(ctx, *issue.AssignedTo, models.NotificationIssueAssigned, issue)
	}
	return issue, nil
}

// Get returns one issue visible to the actor.
func (s *IssueService) Get(ctx context.Context, actor policy.Actor, id string) (*models.Issue, error) {
	return s.authorized(ctx, actor, policy.ActionRead, id)
}

// List returns the issues the actor may see, narrowed by filter.
func (s *IssueService) List(ctx context.Context, actor policy.Actor, filter models.IssueFilter) ([]models.Issue, *models.Pagination, error) {
	if err := s.policy.Authorize(actor, policy.ActionList, nil).Err(); err != nil {
		return nil, nil, err
	}
	s.policy.ScopeFilter(actor, &filter)
	items, total, err := s.issues.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issues")
	}
	if items == nil {
		items = []models.Issue{}
	}
	return items, pagination(filter.Page, filter.PageSize, total), nil
}

// Assign hands an active issue to a lecturer and notifies that lecturer.
func (s *IssueService) Assign(ctx context.Context, actor policy.Actor, id string, req dto.AssignIssueRequest) (*models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid assignment payload")
	}
	issue, err := s.authorized(ctx, actor, policy.ActionAssign, id)
	if err != nil {
		return nil, err
	}
	if issue.Status.IsTerminal() {
		return nil, illegalTransition(fmt.Sprintf("cannot assign a %s issue", issue.Status))
	}
	lecturer, err := s.loadLecturer(ctx, req.LecturerID)
	if err != nil {
		return nil, err
	}

	issue.AssignedTo = &lecturer.ID
	name := lecturer.FullName()
	issue.AssignedToName = &name
	if err := s.update(ctx, issue); err != nil {
		return nil, err
	}

	s.dispatch(ctx, lecturer.ID, models.NotificationIssueAssigned, issue)
	return issue, nil
}

// UpdateStatus moves an active issue to another state. Resolving stamps the
// resolver and time; terminal states accept no further transitions.
func (s *IssueService) UpdateStatus(ctx context.Context, actor policy.Actor, id string, req dto.UpdateIssueStatusRequest) (*models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid status payload")
	}
	issue, err := s.authorized(ctx, actor, policy.ActionStatus, id)
	if err != nil {
		return nil, err
	}
	from := issue.Status
	if from.IsTerminal() {
		return nil, illegalTransition(fmt.Sprintf("issue is already %s", from))
	}
	if req.Status == from {
		return nil, illegalTransition(fmt.Sprintf("issue is already %s", from))
	}

	issue.Status = req.Status
	switch req.Status {
	case models.StatusResolved:
		now := s.now()
		resolver := actor.UserID
		issue.ResolvedAt = &now
		issue.ResolvedBy = &resolver
		issue.ResolutionComment = trimmed(req.Comment)
	case models.StatusDeclined:
		issue.ResolutionComment = trimmed(req.Comment)
	}

	if err := s.update(ctx, issue); err != nil {
		return nil, err
	}
	s.metrics.RecordTransition(from, issue.Status)

	typ := models.NotificationIssueUpdated
	if issue.Status.IsTerminal() {
		typ = models.NotificationIssueResolved
	}
	s.dispatch(ctx, issue.StudentID, typ, issue)
	if issue.AssignedTo != nil && *issue.AssignedTo != actor.UserID {
		s.dispatch(ctx, *issue.AssignedTo, typ, issue)
	}
	return issue, nil
}

// Edit changes the descriptive fields of an active issue and notifies the
// counterpart of the editor.
func (s *IssueService) Edit(ctx context.Context, actor policy.Actor, id string, req dto.UpdateIssueRequest) (*models.Issue, error) {
	req.Title = trimKept(req.Title)
	req.Description = trimKept(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, validation.Error(err, "invalid issue payload")
	}
	if req.Empty() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no fields to update")
	}
	issue, err := s.authorized(ctx, actor, policy.ActionEdit, id)
	if err != nil {
		return nil, err
	}
	if issue.Status.IsTerminal() {
		return nil, illegalTransition(fmt.Sprintf("cannot edit a %s issue", issue.Status))
	}

	if req.Title != nil {
		issue.Title = *req.Title
	}
	if req.Description != nil {
		issue.Description = *req.Description
	}
	if req.Category != nil {
		issue.Category = *req.Category
	}
	if req.Priority != nil {
		issue.Priority = *req.Priority
	}
	if req.CourseUnit != nil {
		issue.CourseUnit = req.CourseUnit
	}
	if req.YearOfStudy != nil {
		issue.YearOfStudy = req.YearOfStudy
	}
	if req.Semester != nil {
		issue.Semester = req.Semester
	}

	if err := s.update(ctx, issue); err != nil {
		return nil, err
	}
	s.notifyCounterpart(ctx, actor, issue)
	return issue, nil
}

// Delete removes an issue; its notifications cascade and its attachment is
// removed best-effort.
func (s *IssueService) Delete(ctx context.Context, actor policy.Actor, id string) error {
	issue, err := s.authorized(ctx, actor, policy.ActionDelete, id)
	if err != nil {
		return err
	}
	if err := s.issues.Delete(ctx, issue.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete issue")
	}
	if issue.Attachment != nil {
		s.removeFile(*issue.Attachment)
	}
	return nil
}

// AttachFile stores an upload under a date-namespaced path and links it to
// the issue, replacing any previous attachment.
func (s *IssueService) AttachFile(ctx context.Context, actor policy.Actor, id string, upload dto.AttachmentUpload) (*models.Issue, error) {
	if upload.Content == nil || upload.Filename == "" {
		return nil, appErrors.Field("file", "file is required")
	}
	issue, err := s.authorized(ctx, actor, policy.ActionAttach, id)
	if err != nil {
		return nil, err
	}
	if issue.Status.IsTerminal() {
		return nil, illegalTransition(fmt.Sprintf("cannot attach files to a %s issue", issue.Status))
	}
	if upload.Size > s.cfg.MaxAttachmentBytes {
		return nil, appErrors.Field("file", fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxAttachmentBytes))
	}
	if !s.mimeAllowed(upload.ContentType) {
		return nil, appErrors.Field("file", fmt.Sprintf("file type %q is not allowed", upload.ContentType))
	}

	relPath := storage.DatedPath(attachmentPrefix, s.now(), upload.Filename)
	if _, err := s.storage.SaveStream(relPath, upload.Content, s.cfg.MaxAttachmentBytes); err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, appErrors.Field("file", fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxAttachmentBytes))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attachment")
	}

	previous := issue.Attachment
	issue.Attachment = &relPath
	if err := s.update(ctx, issue); err != nil {
		s.removeFile(relPath)
		return nil, err
	}
	if previous != nil {
		s.removeFile(*previous)
	}
	s.notifyCounterpart(ctx, actor, issue)
	return issue, nil
}

// AttachmentURL issues a signed, expiring download link for the attachment.
func (s *IssueService) AttachmentURL(ctx context.Context, actor policy.Actor, id string) (*dto.AttachmentLink, error) {
	issue, err := s.authorized(ctx, actor, policy.ActionRead, id)
	if err != nil {
		return nil, err
	}
	if issue.Attachment == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "issue has no attachment")
	}
	token, expiresAt, err := s.signer.Generate(issue.ID, *issue.Attachment)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign attachment link")
	}
	link := fmt.Sprintf("%s/issues/%s/attachment/download?token=%s", strings.TrimRight(s.cfg.APIPrefix, "/"), issue.ID, url.QueryEscape(token))
	return &dto.AttachmentLink{URL: link, ExpiresAt: expiresAt}, nil
}

// OpenAttachment resolves a signed download token into the stored file. The
// caller must close the returned file.
func (s *IssueService) OpenAttachment(ctx context.Context, id, token string) (*os.File, string, error) {
	signed, err := s.signer.Parse(token)
	if err != nil || signed.Subject != id {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link")
	}
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if issue.Attachment == nil || *issue.Attachment != signed.Path {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "attachment no longer exists")
	}
	file, err := s.storage.Open(signed.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "attachment no longer exists")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open attachment")
	}
	return file, path.Base(signed.Path), nil
}

func (s *IssueService) authorized(ctx context.Context, actor policy.Actor, action policy.Action, id string) (*models.Issue, error) {
	if err := s.policy.Authorize(actor, action, nil).Err(); err != nil {
		return nil, err
	}
	issue, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, action, issue).Err(); err != nil {
		return nil, err
	}
	return issue, nil
}

func (s *IssueService) load(ctx context.Context, id string) (*models.Issue, error) {
	issue, err := s.issues.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue")
	}
	return issue, nil
}

// reload refreshes read projections after a write. Failures keep the
// written copy.
func (s *IssueService) reload(ctx context.Context, issue *models.Issue) {
	fresh, err := s.issues.FindByID(ctx, issue.ID)
	if err != nil {
		s.logger.Warn("failed to reload issue", zap.String("issue_id", issue.ID), zap.Error(err))
		return
	}
	*issue = *fresh
}

func (s *IssueService) update(ctx context.Context, issue *models.Issue) error {
	if err := s.issues.Update(ctx, issue); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update issue")
	}
	return nil
}

func (s *IssueService) loadLecturer(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lecturer not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lecturer")
	}
	if user.Role != models.RoleLecturer || !user.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "lecturer not found")
	}
	return user, nil
}

// notifyCounterpart tells the other side about an edit: students' edits go
// to the assigned lecturer, everyone else's to the student.
func (s *IssueService) notifyCounterpart(ctx context.Context, actor policy.Actor, issue *models.Issue) {
	if actor.Role == models.RoleStudent {
		if issue.AssignedTo != nil {
			s.dispatch(ctx, *issue.AssignedTo, models.NotificationIssueUpdated, issue)
		}
		return
	}
	s.dispatch(ctx, issue.StudentID, models.NotificationIssueUpdated, issue)
}

// dispatch delivers a notification after the mutation has been stored.
// Failures are logged and counted, never returned.
func (s *IssueService) dispatch(ctx context.Context, recipientID string, typ models.NotificationType, issue *models.Issue) {
	if s.notifier == nil || recipientID == "" {
		return
	}
	if _, err := s.notifier.Notify(ctx, recipientID, typ, issue, ""); err != nil {
		s.metrics.RecordNotification(typ, false)
		s.logger.Warn("notification dispatch failed",
			zap.String("issue_id", issue.ID),
			zap.String("recipient_id", recipientID),
			zap.String("type", string(typ)),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordNotification(typ, true)
}

func (s *IssueService) removeFile(relPath string) {
	if s.storage == nil {
		return
	}
	if err := s.storage.Delete(relPath); err != nil {
		s.logger.Warn("failed to remove attachment", zap.String("path", relPath), zap.Error(err))
	}
}

func (s *IssueService) mimeAllowed(contentType string) bool {
	if len(s.cfg.AllowedMIMEs) == 0 {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedMIMEs {
		if strings.EqualFold(allowed, mediaType) {
			return true
		}
	}
	return false
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// illegalTransition reports a rejected lifecycle change scoped to the status
// field.
func illegalTransition(message string) *appErrors.Error {
	err := appErrors.Clone(appErrors.ErrIllegalTransition, message)
	err.Fields = map[string]string{"status": message}
	return err
}

// trimKept trims a provided value but keeps it set, so blank input still
// reaches validation.
func trimKept(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}
