package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/aits-api/internal/dto"
	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/internal/policy"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
	"github.com/noah-isme/aits-api/pkg/storage"
)

const (
	studentID   = "11111111-1111-1111-1111-111111111111"
	otherID     = "22222222-2222-2222-2222-222222222222"
	lecturerA   = "33333333-3333-3333-3333-333333333333"
	lecturerB   = "44444444-4444-4444-4444-444444444444"
	registrarID = "55555555-5555-5555-5555-555555555555"
	deptCS      = "66666666-6666-6666-6666-666666666666"
)

var (
	student   = policy.Actor{UserID: studentID, Role: models.RoleStudent, DepartmentID: deptCS}
	stranger  = policy.Actor{UserID: otherID, Role: models.RoleStudent}
	lectA     = policy.Actor{UserID: lecturerA, Role: models.RoleLecturer, DepartmentID: deptCS}
	lectB     = policy.Actor{UserID: lecturerB, Role: models.RoleLecturer}
	registrar = policy.Actor{UserID: registrarID, Role: models.RoleRegistrar}
)

type fakeIssueRepo struct {
	items      map[string]*models.Issue
	seq        int
	lastFilter models.IssueFilter
	updates    int
	createErr  error
}

func newFakeIssueRepo() *fakeIssueRepo {
	return &fakeIssueRepo{items: map[string]*models.Issue{}}
}

func (r *fakeIssueRepo) put(issue models.Issue) {
	r.items[issue.ID] = &issue
}

func (r *fakeIssueRepo) Create(ctx context.Context, issue *models.Issue) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.seq++
	issue.ID = "issue-" + string(rune('0'+r.seq))
	issue.CreatedAt = time.Now().UTC()
	issue.UpdatedAt = issue.CreatedAt
	cp := *issue
	r.items[issue.ID] = &cp
	return nil
}

func (r *fakeIssueRepo) FindByID(ctx context.Context, id string) (*models.Issue, error) {
	issue, ok := r.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *issue
	return &cp, nil
}

func (r *fakeIssueRepo) List(ctx context.Context, filter models.IssueFilter) ([]models.Issue, int, error) {
	r.lastFilter = filter
	var out []models.Issue
	for _, issue := range r.items {
		if filter.StudentID != "" && issue.StudentID != filter.StudentID {
			continue
		}
		if filter.AssignedTo != "" && !issue.IsAssignedTo(filter.AssignedTo) {
			continue
		}
		out = append(out, *issue)
	}
	return out, len(out), nil
}

func (r *fakeIssueRepo) Update(ctx context.Context, issue *models.Issue) error {
	if _, ok := r.items[issue.ID]; !ok {
		return sql.ErrNoRows
	}
	r.updates++
	cp := *issue
	r.items[issue.ID] = &cp
	return nil
}

func (r *fakeIssueRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.items[id]; !ok {
		return sql.ErrNoRows
	}
	delete(r.items, id)
	return nil
}

type fakeUserLookup map[string]*models.User

func (f fakeUserLookup) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type sentNotification struct {
	recipient string
	typ       models.NotificationType
}

type fakeNotifier struct {
	sent []sentNotification
	err  error
}

func (f *fakeNotifier) Notify(ctx context.Context, recipientID string, typ models.NotificationType, issue *models.Issue, message string) (*models.Notification, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sentNotification{recipient: recipientID, typ: typ})
	return &models.Notification{RecipientID: recipientID, Type: typ, IssueID: issue.ID}, nil
}

type issueFixture struct {
	svc      *IssueService
	repo     *fakeIssueRepo
	notifier *fakeNotifier
	store    *storage.LocalStorage
}

func newIssueFixture(t *testing.T, scope policy.Scope) *issueFixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	users := fakeUserLookup{
		lecturerA:   {ID: lecturerA, Role: models.RoleLecturer, FirstName: "Ann", LastName: "Okello", Active: true},
		lecturerB:   {ID: lecturerB, Role: models.RoleLecturer, FirstName: "Ben", LastName: "Mugisha", Active: true},
		registrarID: {ID: registrarID, Role: models.RoleRegistrar, Active: true},
	}
	repo := newFakeIssueRepo()
	notifier := &fakeNotifier{}
	svc := NewIssueService(repo, users, notifier, policy.New(scope), store,
		storage.NewSignedURLSigner("secret", time.Minute), nil, nil, zap.NewNop(),
		IssueConfig{APIPrefix: "/api/v1", MaxAttachmentBytes: 16, AllowedMIMEs: []string{"text/plain"}})
	return &issueFixture{svc: svc, repo: repo, notifier: notifier, store: store}
}

func openIssue(assigned *string) models.Issue {
	dept := deptCS
	return models.Issue{
		ID:                  "issue-open",
		Title:               "Missing marks",
		Category:            models.CategoryAcademic,
		Description:         "CAT marks missing",
		Status:              models.StatusOpen,
		Priority:            models.PriorityHigh,
		StudentID:           studentID,
		StudentDepartmentID: &dept,
		AssignedTo:          assigned,
	}
}

func strPtr(s string) *string { return &s }

func assertCode(t *testing.T, err error, target *appErrors.Error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, target), "expected %s, got %v", target.Code, err)
}

func TestIssueServiceCreateDefaultsPriorityFromCategory(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)

	academic, err := f.svc.Create(context.Background(), student, dto.CreateIssueRequest{
		Title: "Missing marks", Category: models.CategoryAcademic, Description: "CAT marks missing",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, academic.Priority)
	assert.Equal(t, models.StatusOpen, academic.Status)
	assert.Equal(t, studentID, academic.StudentID)

	other, err := f.svc.Create(context.Background(), student, dto.CreateIssueRequest{
		Title: "Question", Category: models.CategoryOther, Description: "General question",
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityLow, other.Priority)

	assert.Equal(t, []sentNotification{
		{recipient: studentID, typ: models.NotificationIssueCreated},
		{recipient: studentID, typ: models.NotificationIssueCreated},
	}, f.notifier.sent)
}

func TestIssueServiceCreateExplicitPriorityAndAssignee(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	low := models.PriorityLow
	lecturer := lecturerA

	issue, err := f.svc.Create(context.Background(), student, dto.CreateIssueRequest{
		Title: "Exam clash", Category: models.CategoryExamination, Description: "Two papers same slot",
		Priority: &low, AssignedTo: &lecturer,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PriorityLow, issue.Priority)
	assert.True(t, issue.IsAssignedTo(lecturerA))
	assert.Contains(t, f.notifier.sent, sentNotification{recipient: lecturerA, typ: models.NotificationIssueAssigned})
}

func TestIssueServiceCreateRejectsNonStudentsAndBadInput(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	req := dto.CreateIssueRequest{Title: "x", Category: models.CategoryOther, Description: "y"}

	_, err := f.svc.Create(context.Background(), lectA, req)
	assertCode(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Create(context.Background(), student, dto.CreateIssueRequest{Title: "x", Category: "gossip", Description: "y"})
	assertCode(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Fields, "category")

	_, err = f.svc.Create(context.Background(), student, dto.CreateIssueRequest{
		Title: "x", Category: models.CategoryOther, Description: "y", AssignedTo: strPtr(registrarID),
	})
	assertCode(t, err, appErrors.ErrNotFound)

	assert.Empty(t, f.repo.items)
	assert.Empty(t, f.notifier.sent)
}

func TestIssueServiceCreateRejectsBlankText(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)

	_, err := f.svc.Create(context.Background(), student, dto.CreateIssueRequest{
		Title: "   ", Category: models.CategoryAcademic, Description: "  \t ",
	})
	assertCode(t, err, appErrors.ErrValidation)
	fields := appErrors.FromError(err).Fields
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "description")
	assert.Empty(t, f.repo.items)
	assert.Empty(t, f.notifier.sent)
}

func TestIssueServiceEditRejectsBlankText(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(strPtr(lecturerA)))

	_, err := f.svc.Edit(context.Background(), student, "issue-open", dto.UpdateIssueRequest{Title: strPtr("  ")})
	assertCode(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Fields, "title")

	_, err = f.svc.Edit(context.Background(), student, "issue-open", dto.UpdateIssueRequest{Description: strPtr("\n")})
	assertCode(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Fields, "description")

	stored, err := f.repo.FindByID(context.Background(), "issue-open")
	require.NoError(t, err)
	assert.Equal(t, "Missing marks", stored.Title)
	assert.Equal(t, "CAT marks missing", stored.Description)
	assert.Zero(t, f.repo.updates)
	assert.Empty(t, f.notifier.sent)
}

func TestIssueServiceStudentCannotReadOthersIssue(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(nil))

	_, err := f.svc.Get(context.Background(), stranger, "issue-open")
	assertCode(t, err, appErrors.ErrForbidden)

	issue, err := f.svc.Get(context.Background(), student, "issue-open")
	require.NoError(t, err)
	assert.Equal(t, "Missing marks", issue.Title)

	_, err = f.svc.Get(context.Background(), student, "missing")
	assertCode(t, err, appErrors.ErrNotFound)
}

func TestIssueServiceResolveStampsAndNotifiesOnce(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(strPtr(lecturerA)))

	issue, err := f.svc.UpdateStatus(context.Background(), lectA, "issue-open", dto.UpdateIssueStatusRequest{Status: models.StatusResolved})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, issue.Status)
	require.NotNil(t, issue.ResolvedBy)
	assert.Equal(t, lecturerA, *issue.ResolvedBy)
	require.NotNil(t, issue.ResolvedAt)
	assert.Equal(t, []sentNotification{{recipient: studentID, typ: models.NotificationIssueResolved}}, f.notifier.sent)

	_, err = f.svc.UpdateStatus(context.Background(), lectA, "issue-open", dto.UpdateIssueStatusRequest{Status: models.StatusResolved})
	assertCode(t, err, appErrors.ErrIllegalTransition)
	assert.Equal(t, map[string]string{"status": "issue is already resolved"}, appErrors.FromError(err).Fields)
	_, err = f.svc.UpdateStatus(context.Background(), lectA, "issue-open", dto.UpdateIssueStatusRequest{Status: models.StatusOpen})
	assertCode(t, err, appErrors.ErrIllegalTransition)
	assert.Len(t, f.notifier.sent, 1)
	assert.Equal(t, 1, f.repo.updates)
}

func TestIssueServiceUnassignedLecturerIsDenied(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(strPtr(lecturerB)))

	_, err := f.svc.UpdateStatus(context.Background(), lectA, "issue-open", dto.UpdateIssueStatusRequest{Status: models.StatusResolved})
	assertCode(t, err, appErrors.ErrForbidden)

	stored, _ := f.repo.FindByID(context.Background(), "issue-open")
	assert.Equal(t, models.StatusOpen, stored.Status)
	assert.Empty(t, f.notifier.sent)
}

func TestIssueServiceDepartmentScopeAdmitsDepartmentLecturer(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeDepartment)
	f.repo.put(openIssue(strPtr(lecturerB)))

	issue, err := f.svc.UpdateStatus(context.Background(), lectA, "issue-open", dto.UpdateIssueStatusRequest{Status: models.StatusInProgress})
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, issue.Status)
	assert.Nil(t, issue.ResolvedAt)
	assert.ElementsMatch(t, []sentNotification{
		{recipient: studentID, typ: models.NotificationIssueUpdated},
		{recipient: lecturerB, typ: models.NotificationIssueUpdated},
	}, f.notifier.sent)
}

func TestIssueServiceRegistrarResolveNotifiesStudentAndLecturer(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(strPtr(lecturerA)))

	issue, err := f.svc.UpdateStatus(context.Background(), registrar, "issue-open", dto.UpdateIssueStatusRequest{
		Status: models.StatusResolved, Comment: strPtr("  marks uploaded "),
	})
	require.NoError(t, err)
	require.NotNil(t, issue.ResolutionComment)
	assert.Equal(t, "marks uploaded", *issue.ResolutionComment)
	assert.Equal(t, registrarID, *issue.ResolvedBy)
	assert.Equal(t, []sentNotification{
		{recipient: studentID, typ: models.NotificationIssueResolved},
		{recipient: lecturerA, typ: models.NotificationIssueResolved},
	}, f.notifier.sent)
}

func TestIssueServiceDeclineKeepsResolverEmpty(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(nil))

	issue, err := f.svc.UpdateStatus(context.Background(), registrar, "issue-open", dto.UpdateIssueStatusRequest{
		Status: models.StatusDeclined, Comment: strPtr("duplicate"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, issue.Status)
	assert.Nil(t, issue.ResolvedBy)
	assert.Nil(t, issue.ResolvedAt)
	assert.Equal(t, "duplicate", *issue.ResolutionComment)
}

func TestIssueServiceStudentCannotChangeStatus(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(nil))

	_, err := f.svc.UpdateStatus(context.Background(), student, "issue-open", dto.UpdateIssueStatusRequest{Status: models.StatusResolved})
	assertCode(t, err, appErrors.ErrForbidden)
	assert.Empty(t, f.notifier.sent)
}

func TestIssueServiceDispatchFailureDoesNotFailMutation(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.notifier.err = errors.New("notifications table unavailable")
	f.repo.put(openIssue(strPtr(lecturerA)))

	issue, err := f.svc.UpdateStatus(context.Background(), registrar, "issue-open", dto.UpdateIssueStatusRequest{Status: models.StatusResolved})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, issue.Status)

	stored, _ := f.repo.FindByID(context.Background(), "issue-open")
	assert.Equal(t, models.StatusResolved, stored.Status)
}

func TestIssueServiceAssign(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(nil))

	_, err := f.svc.Assign(context.Background(), lectA, "issue-open", dto.AssignIssueRequest{LecturerID: lecturerA})
	assertCode(t, err, appErrors.ErrForbidden)

	_, err = f.svc.Assign(context.Background(), registrar, "issue-open", dto.AssignIssueRequest{LecturerID: registrarID})
	assertCode(t, err, appErrors.ErrNotFound)

	issue, err := f.svc.Assign(context.Background(), registrar, "issue-open", dto.AssignIssueRequest{LecturerID: lecturerB})
	require.NoError(t, err)
	assert.True(t, issue.IsAssignedTo(lecturerB))
	assert.Equal(t, "Ben Mugisha", *issue.AssignedToName)
	assert.Equal(t, []sentNotification{{recipient: lecturerB, typ: models.NotificationIssueAssigned}}, f.notifier.sent)
}

func TestIssueServiceTerminalIssuesAreFrozen(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	closed := openIssue(strPtr(lecturerA))
	closed.Status = models.StatusResolved
	f.repo.put(closed)

	_, err := f.svc.Assign(context.Background(), registrar, "issue-open", dto.AssignIssueRequest{LecturerID: lecturerB})
	assertCode(t, err, appErrors.ErrIllegalTransition)

	_, err = f.svc.Edit(context.Background(), student, "issue-open", dto.UpdateIssueRequest{Title: strPtr("new")})
	assertCode(t, err, appErrors.ErrIllegalTransition)

	_, err = f.svc.AttachFile(context.Background(), student, "issue-open", dto.AttachmentUpload{
		Filename: "a.txt", ContentType: "text/plain", Size: 1, Content: strings.NewReader("a"),
	})
	assertCode(t, err, appErrors.ErrIllegalTransition)
	assert.Empty(t, f.notifier.sent)
}

func TestIssueServiceEditNotifiesCounterpart(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(strPtr(lecturerA)))

	_, err := f.svc.Edit(context.Background(), student, "issue-open", dto.UpdateIssueRequest{})
	assertCode(t, err, appErrors.ErrValidation)

	issue, err := f.svc.Edit(context.Background(), student, "issue-open", dto.UpdateIssueRequest{Title: strPtr(" Missing CAT marks ")})
	require.NoError(t, err)
	assert.Equal(t, "Missing CAT marks", issue.Title)

	_, err = f.svc.Edit(context.Background(), lectA, "issue-open", dto.UpdateIssueRequest{Description: strPtr("checked with examiner")})
	require.NoError(t, err)

	assert.Equal(t, []sentNotification{
		{recipient: lecturerA, typ: models.NotificationIssueUpdated},
		{recipient: studentID, typ: models.NotificationIssueUpdated},
	}, f.notifier.sent)
}

func TestIssueServiceListIsScopedByRole(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(strPtr(lecturerA)))
	other := openIssue(nil)
	other.ID = "issue-other"
	other.StudentID = otherID
	f.repo.put(other)

	items, page, err := f.svc.List(context.Background(), student, models.IssueFilter{StudentID: otherID})
	require.NoError(t, err)
	assert.Equal(t, studentID, f.repo.lastFilter.StudentID)
	require.Len(t, items, 1)
	assert.Equal(t, "issue-open", items[0].ID)
	assert.Equal(t, 1, page.TotalCount)

	items, _, err = f.svc.List(context.Background(), lectB, models.IssueFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NotNil(t, items)

	items, _, err = f.svc.List(context.Background(), registrar, models.IssueFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestIssueServiceDelete(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(nil))

	err := f.svc.Delete(context.Background(), stranger, "issue-open")
	assertCode(t, err, appErrors.ErrForbidden)

	require.NoError(t, f.svc.Delete(context.Background(), student, "issue-open"))
	assert.Empty(t, f.repo.items)

	err = f.svc.Delete(context.Background(), student, "issue-open")
	assertCode(t, err, appErrors.ErrNotFound)
}

func TestIssueServiceAttachmentLifecycle(t *testing.T) {
	f := newIssueFixture(t, policy.ScopeAssigned)
	f.repo.put(openIssue(strPtr(lecturerA)))

	_, err := f.svc.AttachFile(context.Background(), student, "issue-open", dto.AttachmentUpload{
		Filename: "transcript.exe", ContentType: "application/x-msdownload", Size: 4, Content: strings.NewReader("MZ.."),
	})
	assertCode(t, err, appErrors.ErrValidation)

	_, err = f.svc.AttachFile(context.Background(), student, "issue-open", dto.AttachmentUpload{
		Filename: "big.txt", ContentType: "text/plain", Size: 0, Content: bytes.NewReader(make([]byte, 64)),
	})
	assertCode(t, err, appErrors.ErrValidation)

	issue, err := f.svc.AttachFile(context.Background(), student, "issue-open", dto.AttachmentUpload{
		Filename: "note.txt", ContentType: "text/plain; charset=utf-8", Size: 5, Content: strings.NewReader("hello"),
	})
	require.NoError(t, err)
	require.NotNil(t, issue.Attachment)
	assert.True(t, strings.HasPrefix(*issue.Attachment, "issue_attachments/"))
	assert.True(t, strings.HasSuffix(*issue.Attachment, ".txt"))
	assert.Equal(t, []sentNotification{{recipient: lecturerA, typ: models.NotificationIssueUpdated}}, f.notifier.sent)

	_, err = f.svc.AttachmentURL(context.Background(), stranger, "issue-open")
	assertCode(t, err, appErrors.ErrForbidden)

	link, err := f.svc.AttachmentURL(context.Background(), lectA, "issue-open")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(link.URL, "/api/v1/issues/issue-open/attachment/download?token="))

	parsed, err := url.Parse(link.URL)
	require.NoError(t, err)
	token := parsed.Query().Get("token")

	_, _, err = f.svc.OpenAttachment(context.Background(), "another-issue", token)
	assertCode(t, err, appErrors.ErrForbidden)

	file, name, err := f.svc.OpenAttachment(context.Background(), "issue-open", token)
	require.NoError(t, err)
	defer file.Close()
	body, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.True(t, strings.HasSuffix(name, ".txt"))
}
