package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/aits-api/internal/dto"
	"github.com/noah-isme/aits-api/internal/middleware"
	"github.com/noah-isme/aits-api/internal/models"
	"github.com/noah-isme/aits-api/internal/policy"
	"github.com/noah-isme/aits-api/internal/service"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type issueServiceMock struct {
	actor      policy.Actor
	filter     models.IssueFilter
	created    dto.CreateIssueRequest
	upload     dto.AttachmentUpload
	uploadBody string
	statusErr  error
	file       string
}

func (m *issueServiceMock) Create(ctx context.Context, actor policy.Actor, req dto.CreateIssueRequest) (*models.Issue, error) {
	m.actor, m.created = actor, req
	return &models.Issue{ID: "issue-1", Title: req.Title, StudentID: actor.UserID}, nil
}

func (m *issueServiceMock) Get(ctx context.Context, actor policy.Actor, id string) (*models.Issue, error) {
	if id != "issue-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
	}
	return &models.Issue{ID: id}, nil
}

func (m *issueServiceMock) List(ctx context.Context, actor policy.Actor, filter models.IssueFilter) ([]models.Issue, *models.Pagination, error) {
	m.actor, m.filter = actor, filter
	return []models.Issue{{ID: "issue-1"}}, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: 1}, nil
}

func (m *issueServiceMock) Assign(ctx context.Context, actor policy.Actor, id string, req dto.AssignIssueRequest) (*models.Issue, error) {
	return &models.Issue{ID: id, AssignedTo: &req.LecturerID}, nil
}

func (m *issueServiceMock) UpdateStatus(ctx context.Context, actor policy.Actor, id string, req dto.UpdateIssueStatusRequest) (*models.Issue, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &models.Issue{ID: id, Status: req.Status}, nil
}

func (m *issueServiceMock) Edit(ctx context.Context, actor policy.Actor, id string, req dto.UpdateIssueRequest) (*models.Issue, error) {
	return &models.Issue{ID: id}, nil
}

func (m *issueServiceMock) Delete(ctx context.Context, actor policy.Actor, id string) error {
	return nil
}

func (m *issueServiceMock) AttachFile(ctx context.Context, actor policy.Actor, id string, upload dto.AttachmentUpload) (*models.Issue, error) {
	m.upload = upload
	body, _ := io.ReadAll(upload.Content)
	m.uploadBody = string(body)
	return &models.Issue{ID: id}, nil
}

func (m *issueServiceMock) AttachmentURL(ctx context.Context, actor policy.Actor, id string) (*dto.AttachmentLink, error) {
	return &dto.AttachmentLink{URL: "/api/v1/issues/" + id + "/attachment/download?token=t"}, nil
}

func (m *issueServiceMock) OpenAttachment(ctx context.Context, id, token string) (*os.File, string, error) {
	if token != "good" {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link")
	}
	f, err := os.Open(m.file)
	return f, filepath.Base(m.file), err
}

type exporterMock struct {
	format string
	err    error
}

func (m *exporterMock) Export(ctx context.Context, actor policy.Actor, filter models.IssueFilter, format string) (*service.ExportResult, error) {
	m.format = format
	if m.err != nil {
		return nil, m.err
	}
	return &service.ExportResult{Filename: "issues.csv", ContentType: "text/csv", Data: []byte("ID\n")}, nil
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	}
}

var studentClaims = &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent, DepartmentID: "dept-1"}

func issueRouter(h *IssueHandler, claims *models.JWTClaims) *gin.Engine {
	r := gin.New()
	g := r.Group("/issues", withClaims(claims))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/export", h.Export)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/status", h.UpdateStatus)
	g.POST("/:id/attachment", h.Attach)
	g.GET("/:id/attachment/download", h.Download)
	return r
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestIssueHandlerListBuildsFilterFromQuery(t *testing.T) {
	svc := &issueServiceMock{}
	r := issueRouter(NewIssueHandler(svc, nil), studentClaims)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/issues?status=open&category=bogus&page=2&page_size=5&search=+marks+", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, svc.filter.Status)
	assert.Equal(t, models.StatusOpen, *svc.filter.Status)
	assert.Nil(t, svc.filter.Category)
	assert.Equal(t, "marks", svc.filter.Search)
	assert.Equal(t, 2, svc.filter.Page)
	assert.Equal(t, 5, svc.filter.PageSize)
	assert.Equal(t, policy.Actor{UserID: "student-1", Role: models.RoleStudent, DepartmentID: "dept-1"}, svc.actor)
	assert.Contains(t, decodeEnvelope(t, w), "pagination")
}

func TestIssueHandlerRequiresClaims(t *testing.T) {
	r := issueRouter(NewIssueHandler(&issueServiceMock{}, nil), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/issues", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueHandlerCreate(t *testing.T) {
	svc := &issueServiceMock{}
	r := issueRouter(NewIssueHandler(svc, nil), studentClaims)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/issues", bytes.NewBufferString(`{"title":`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body, _ := json.Marshal(dto.CreateIssueRequest{Title: "Missing marks", Category: models.CategoryAcademic, Description: "CAT"})
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/issues", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Missing marks", svc.created.Title)
}

func TestIssueHandlerMapsDomainErrors(t *testing.T) {
	svc := &issueServiceMock{statusErr: appErrors.Clone(appErrors.ErrIllegalTransition, "issue is already resolved")}
	r := issueRouter(NewIssueHandler(svc, nil), studentClaims)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/issues/issue-1/status", bytes.NewBufferString(`{"status":"resolved"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/issues/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIssueHandlerAttachReadsMultipart(t *testing.T) {
	svc := &issueServiceMock{}
	r := issueRouter(NewIssueHandler(svc, nil), studentClaims)

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="note.txt"`},
		"Content-Type":        {"text/plain"},
	})
	require.NoError(t, err)
	_, _ = part.Write([]byte("hello"))
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/issues/issue-1/attachment", buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "note.txt", svc.upload.Filename)
	assert.Equal(t, "text/plain", svc.upload.ContentType)
	assert.Equal(t, int64(5), svc.upload.Size)
	assert.Equal(t, "hello", svc.uploadBody)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/issues/issue-1/attachment", bytes.NewBufferString("x"))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueHandlerDownload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abc.txt")
	require.NoError(t, os.WriteFile(path, []byte("attachment body"), 0o600))
	r := issueRouter(NewIssueHandler(&issueServiceMock{file: path}, nil), nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/issues/issue-1/attachment/download?token=bad", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/issues/issue-1/attachment/download?token=good", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attachment body", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="abc.txt"`)
}

func TestIssueHandlerExport(t *testing.T) {
	exporter := &exporterMock{}
	r := issueRouter(NewIssueHandler(&issueServiceMock{}, exporter), &models.JWTClaims{UserID: "reg-1", Role: models.RoleRegistrar})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/issues/export", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", exporter.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "ID\n", w.Body.String())

	exporter.err = appErrors.Clone(appErrors.ErrForbidden, "forbidden")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/issues/export?format=pdf", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "pdf", exporter.format)
}

type notificationServiceMock struct {
	recipient string
	filter    models.NotificationFilter
}

func (m *notificationServiceMock) List(ctx context.Context, recipientID string, filter models.NotificationFilter) ([]models.Notification, *models.Pagination, error) {
	m.recipient, m.filter = recipientID, filter
	return []models.Notification{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *notificationServiceMock) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	m.recipient = recipientID
	return 3, nil
}

func (m *notificationServiceMock) MarkRead(ctx context.Context, recipientID, id string) error {
	if id != "n-1" {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}

func (m *notificationServiceMock) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	return 2, nil
}

func (m *notificationServiceMock) Delete(ctx context.Context, recipientID, id string) error {
	return nil
}

func (m *notificationServiceMock) DeleteAll(ctx context.Context, recipientID string) (int64, error) {
	return 4, nil
}

func TestNotificationHandlerEndpoints(t *testing.T) {
	svc := &notificationServiceMock{}
	h := NewNotificationHandler(svc)
	r := gin.New()
	g := r.Group("/notifications", withClaims(studentClaims))
	g.GET("", h.List)
	g.GET("/unread-count", h.UnreadCount)
	g.PATCH("/:id/read", h.MarkRead)
	g.DELETE("", h.DeleteAll)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications?unread=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "student-1", svc.recipient)
	require.NotNil(t, svc.filter.Unread)
	assert.True(t, *svc.filter.Unread)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications/unread-count", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":3}`, string(decodeEnvelope(t, w)["data"]))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPatch, "/notifications/n-2/read", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/notifications", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"affected":4}`, string(decodeEnvelope(t, w)["data"]))
}

type authServiceMock struct {
	loginReq models.LoginRequest
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginReq = req
	if req.Password != "good" {
		return nil, appErrors.ErrInvalidCredentials
	}
	return &models.LoginResponse{AccessToken: "a", RefreshToken: "r"}, nil
}

func (m *authServiceMock) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.RefreshTokenResponse, error) {
	return &models.RefreshTokenResponse{AccessToken: "a2"}, nil
}

func (m *authServiceMock) Logout(ctx context.Context, userID string, req models.LogoutRequest) error {
	return nil
}

func (m *authServiceMock) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID}, nil
}

type registrationMock struct{}

func (registrationMock) Register(ctx context.Context, req models.RegisterRequest) (*models.UserInfo, error) {
	if req.Email == "taken@mak.ac.ug" {
		return nil, appErrors.Field("email", "This email is already registered")
	}
	return &models.UserInfo{ID: "new", Email: req.Email}, nil
}

func TestAuthHandlerFlows(t *testing.T) {
	auth := &authServiceMock{}
	h := NewAuthHandler(auth, registrationMock{})
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/me", withClaims(nil), h.Me)

	post := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "handler-test")
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusCreated, post("/auth/register", `{"email":"new@mak.ac.ug"}`).Code)

	w := post("/auth/register", `{"email":"taken@mak.ac.ug"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(decodeEnvelope(t, w)["error"]), `"email":"This email is already registered"`)

	assert.Equal(t, http.StatusUnauthorized, post("/auth/login", `{"identifier":"jn","password":"bad"}`).Code)
	assert.Equal(t, http.StatusOK, post("/auth/login", `{"identifier":"jn","password":"good"}`).Code)
	assert.Equal(t, "handler-test", auth.loginReq.UserAgent)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
		"database": PingerFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingerFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})
	r := gin.New()
	r.GET("/ready", h.Ready)
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Prometheus)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "goroutines_total")
}
