package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/aits-api/internal/models"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
)

type fakeNotificationRepo struct {
	items      []*models.Notification
	countCalls int
	lastFilter models.NotificationFilter
}

func (r *fakeNotificationRepo) Create(ctx context.Context, n *models.Notification) error {
	n.ID = "n-" + string(rune('a'+len(r.items)))
	n.CreatedAt = time.Now().UTC()
	cp := *n
	r.items = append(r.items, &cp)
	return nil
}

func (r *fakeNotificationRepo) List(ctx context.Context, filter models.NotificationFilter) ([]models.Notification, int, error) {
	r.lastFilter = filter
	var out []models.Notification
	for _, n := range r.items {
		if n.RecipientID == filter.RecipientID {
			out = append(out, *n)
		}
	}
	return out, len(out), nil
}

func (r *fakeNotificationRepo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	r.countCalls++
	count := 0
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) find(id, recipientID string) *models.Notification {
	for _, n := range r.items {
		if n.ID == id && n.RecipientID == recipientID {
			return n
		}
	}
	return nil
}

func (r *fakeNotificationRepo) MarkRead(ctx context.Context, id, recipientID string) error {
	n := r.find(id, recipientID)
	if n == nil {
		return sql.ErrNoRows
	}
	n.IsRead = true
	return nil
}

func (r *fakeNotificationRepo) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	var affected int64
	for _, n := range r.items {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			affected++
		}
	}
	return affected, nil
}

func (r *fakeNotificationRepo) Delete(ctx context.Context, id, recipientID string) error {
	for i, n := range r.items {
		if n.ID == id && n.RecipientID == recipientID {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (r *fakeNotificationRepo) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	var kept []*models.Notification
	var affected int64
	for _, n := range r.items {
		if n.RecipientID == recipientID {
			affected++
			continue
		}
		kept = append(kept, n)
	}
	r.items = kept
	return affected, nil
}

type memoryCache struct {
	data map[string][]byte
}

func (m *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.data[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func newNotificationFixture() (*NotificationService, *fakeNotificationRepo, *memoryCache) {
	repo := &fakeNotificationRepo{}
	store := &memoryCache{data: map[string][]byte{}}
	cache := NewCacheService(store, nil, time.Minute, zap.NewNop(), true)
	return NewNotificationService(repo, cache, time.Minute, zap.NewNop()), repo, store
}

func TestNotificationServiceNotifyPersistsWithMessage(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	issue := &models.Issue{ID: "issue-1", Title: "Missing marks", Status: models.StatusResolved}

	n, err := svc.Notify(context.Background(), studentID, models.NotificationIssueResolved, issue, "")
	require.NoError(t, err)
	assert.Equal(t, `The issue "Missing marks" has been resolved.`, n.Message)
	assert.False(t, n.IsRead)
	require.Len(t, repo.items, 1)
	assert.Equal(t, studentID, repo.items[0].RecipientID)

	_, err = svc.Notify(context.Background(), "", models.NotificationIssueUpdated, issue, "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Len(t, repo.items, 1)
}

func TestNotificationMessageTemplates(t *testing.T) {
	issue := &models.Issue{Title: "Exam clash", Status: models.StatusDeclined}
	assert.Equal(t, `The issue "Exam clash" has been declined.`, NotificationMessage(models.NotificationIssueResolved, issue))
	assert.Equal(t, `Your issue "Exam clash" has been submitted.`, NotificationMessage(models.NotificationIssueCreated, issue))
	assert.Equal(t, `The issue "Exam clash" has been assigned to you.`, NotificationMessage(models.NotificationIssueAssigned, issue))

	issue.Status = models.StatusInProgress
	assert.Equal(t, `The issue "Exam clash" is now in progress.`, NotificationMessage(models.NotificationIssueUpdated, issue))
}

func TestNotificationServiceOnlyRecipientMayModify(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	issue := &models.Issue{ID: "issue-1", Title: "Missing marks"}
	n, err := svc.Notify(context.Background(), studentID, models.NotificationIssueUpdated, issue, "")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.MarkRead(context.Background(), otherID, n.ID), appErrors.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(context.Background(), otherID, n.ID), appErrors.ErrNotFound)
	assert.False(t, repo.items[0].IsRead)

	require.NoError(t, svc.MarkRead(context.Background(), studentID, n.ID))
	assert.True(t, repo.items[0].IsRead)
	require.NoError(t, svc.Delete(context.Background(), studentID, n.ID))
	assert.Empty(t, repo.items)
}

func TestNotificationServiceUnreadCountIsCachedAndInvalidated(t *testing.T) {
	svc, repo, store := newNotificationFixture()
	issue := &models.Issue{ID: "issue-1", Title: "Missing marks"}
	_, err := svc.Notify(context.Background(), studentID, models.NotificationIssueCreated, issue, "")
	require.NoError(t, err)

	count, err := svc.UnreadCount(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	count, err = svc.UnreadCount(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, repo.countCalls)
	assert.Contains(t, store.data, "notifications:unread:"+studentID)

	affected, err := svc.MarkAllRead(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NotContains(t, store.data, "notifications:unread:"+studentID)

	count, err = svc.UnreadCount(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	assert.Equal(t, 2, repo.countCalls)
}

func TestNotificationServiceListAndDeleteAll(t *testing.T) {
	svc, repo, _ := newNotificationFixture()
	issue := &models.Issue{ID: "issue-1", Title: "Missing marks"}
	for _, recipient := range []string{studentID, studentID, lecturerA} {
		_, err := svc.Notify(context.Background(), recipient, models.NotificationIssueUpdated, issue, "")
		require.NoError(t, err)
	}

	items, page, err := svc.List(context.Background(), studentID, models.NotificationFilter{RecipientID: lecturerA, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, studentID, repo.lastFilter.RecipientID)
	assert.Equal(t, 2, page.TotalCount)

	affected, err := svc.DeleteAll(context.Background(), studentID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	require.Len(t, repo.items, 1)
	assert.Equal(t, lecturerA, repo.items[0].RecipientID)
}
