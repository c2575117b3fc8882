package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/aits-api/internal/models"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
)

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Delete(ctx context.Context, id, recipientID string) error
	DeleteAll(ctx context.Context, recipientID string) (int64, error)
}

// NotificationService creates notifications and serves them to their
// recipients. Only the recipient may read or modify a notification.
type NotificationService struct {
	repo     notificationRepository
	cache    *CacheService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewNotificationService constructs a NotificationService. cache may be nil.
func NewNotificationService(repo notificationRepository, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// NotificationMessage renders the default text for an event on issue.
func NotificationMessage(typ models.NotificationType, issue *models.Issue) string {
	switch typ {
	case models.NotificationIssueCreated:
		return fmt.Sprintf("Your issue %q has been submitted.", issue.Title)
	case models.NotificationIssueAssigned:
		return fmt.Sprintf("The issue %q has been assigned to you.", issue.Title)
	case models.NotificationIssueResolved:
		if issue.Status == models.StatusDeclined {
			return fmt.Sprintf("The issue %q has been declined.", issue.Title)
		}
		return fmt.Sprintf("The issue %q has been resolved.", issue.Title)
	case models.NotificationCommentAdded:
		return fmt.Sprintf("A new comment was added to the issue %q.", issue.Title)
	}
	if issue.Status == models.StatusInProgress {
		return fmt.Sprintf("The issue %q is now in progress.", issue.Title)
	}
	return fmt.Sprintf("The issue %q has been updated.", issue.Title)
}

// Notify persists a notification for recipientID before returning it. An
// empty message falls back to NotificationMessage.
func (s *NotificationService) Notify(ctx context.Context, recipientID string, typ models.NotificationType, issue *models.Issue, message string) (*models.Notification, error) {
	if recipientID == "" || issue == nil || issue.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "notification requires a recipient and an issue")
	}
	if message == "" {
		message = NotificationMessage(typ, issue)
	}
	n := &models.Notification{
		RecipientID: recipientID,
		Type:        typ,
		IssueID:     issue.ID,
		Message:     message,
		IssueTitle:  issue.Title,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create notification")
	}
	s.cache.Invalidate(ctx, unreadKey(recipientID))
	return n, nil
}

// List returns the recipient's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, recipientID string, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	filter.RecipientID = recipientID
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	if items == nil {
		items = []models.Notification{}
	}
	return items, pagination(filter.Page, filter.PageSize, total), nil
}

// UnreadCount returns the number of unread notifications, served from cache
// when available.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	key := unreadKey(recipientID)
	var cached int
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}
	count, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	s.cache.Set(ctx, key, count, s.cacheTTL)
	return count, nil
}

// MarkRead flags one of the recipient's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, recipientID, id string) error {
	if err := s.repo.MarkRead(ctx, id, recipientID); err != nil {
		return s.mapError(err, "failed to mark notification read")
	}
	s.cache.Invalidate(ctx, unreadKey(recipientID))
	return nil
}

// MarkAllRead flags all of the recipient's notifications as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	s.cache.Invalidate(ctx, unreadKey(recipientID))
	return n, nil
}

// Delete removes one of the recipient's notifications.
func (s *NotificationService) Delete(ctx context.Context, recipientID, id string) error {
	if err := s.repo.Delete(ctx, id, recipientID); err != nil {
		return s.mapError(err, "failed to delete notification")
	}
	s.cache.Invalidate(ctx, unreadKey(recipientID))
	return nil
}

// DeleteAll removes all of the recipient's notifications.
func (s *NotificationService) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.repo.DeleteAll(ctx, recipientID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notifications")
	}
	s.cache.Invalidate(ctx, unreadKey(recipientID))
	return n, nil
}

func (s *NotificationService) mapError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func unreadKey(recipientID string) string {
	return "notifications:unread:" + recipientID
}

func pagination(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
