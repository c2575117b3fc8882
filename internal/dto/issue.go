package dto

import (
	"io"
	"time"

	"github.com/noah-isme/aits-api/internal/models"
)

// CreateIssueRequest is submitted by a student.
type CreateIssueRequest struct {
	Title       string                `json:"title" validate:"required,max=200"`
	Category    models.IssueCategory  `json:"category" validate:"required,issue_category"`
	Description string                `json:"description" validate:"required,max=5000"`
	Priority    *models.IssuePriority `json:"priority,omitempty" validate:"omitempty,issue_priority"`
	CourseUnit  *string               `json:"course_unit,omitempty" validate:"omitempty,oneof=CSC1100 CSC1200 CSC2100 CSC2200 CSC3100"`
	YearOfStudy *string               `json:"year_of_study,omitempty" validate:"omitempty,oneof=1 2 3"`
	Semester    *string               `json:"semester,omitempty" validate:"omitempty,oneof=1 2"`
	AssignedTo  *string               `json:"assigned_to,omitempty" validate:"omitempty,uuid"`
}

// UpdateIssueRequest edits the descriptive fields of an open issue. Nil
// fields are left untouched.
type UpdateIssueRequest struct {
	Title       *string               `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Category    *models.IssueCategory `json:"category,omitempty" validate:"omitempty,issue_category"`
	Description *string               `json:"description,omitempty" validate:"omitempty,min=1,max=5000"`
	Priority    *models.IssuePriority `json:"priority,omitempty" validate:"omitempty,issue_priority"`
	CourseUnit  *string               `json:"course_unit,omitempty" validate:"omitempty,oneof=CSC1100 CSC1200 CSC2100 CSC2200 CSC3100"`
	YearOfStudy *string               `json:"year_of_study,omitempty" validate:"omitempty,oneof=1 2 3"`
	Semester    *string               `json:"semester,omitempty" validate:"omitempty,oneof=1 2"`
}

// Empty reports whether the request changes nothing.
func (r UpdateIssueRequest) Empty() bool {
	return r.Title == nil && r.Category == nil && r.Description == nil && r.Priority == nil &&
		r.CourseUnit == nil && r.YearOfStudy == nil && r.Semester == nil
}

// UpdateIssueStatusRequest moves an issue through its lifecycle.
type UpdateIssueStatusRequest struct {
	Status  models.IssueStatus `json:"status" validate:"required,issue_status"`
	Comment *string            `json:"comment,omitempty" validate:"omitempty,max=2000"`
}

// AssignIssueRequest assigns a lecturer to an issue.
type AssignIssueRequest struct {
	LecturerID string `json:"lecturer_id" validate:"required,uuid"`
}

// AttachmentUpload carries an uploaded file into the lifecycle manager.
type AttachmentUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// AttachmentLink is a signed, expiring download link.
type AttachmentLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
