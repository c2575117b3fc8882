package models

import "time"

// IssueCategory classifies what an issue is about.
type IssueCategory string

const (
	CategoryAcademic       IssueCategory = "academic"
	CategoryTechnical      IssueCategory = "technical"
	CategoryAdministrative IssueCategory = "administrative"
	CategoryExamination    IssueCategory = "examination"
	CategoryRegistration   IssueCategory = "registration"
	CategoryOther          IssueCategory = "other"
)

// Valid reports whether c is a known category.
func (c IssueCategory) Valid() bool {
	_, ok := categoryPriority[c]
	return ok
}

// IssueStatus is the lifecycle state of an issue.
type IssueStatus string

const (
	StatusOpen       IssueStatus = "open"
	StatusInProgress IssueStatus = "in_progress"
	StatusResolved   IssueStatus = "resolved"
	StatusDeclined   IssueStatus = "declined"
)

// Valid reports whether s is a known status.
func (s IssueStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusDeclined:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s IssueStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusDeclined
}

// IssuePriority orders issues for triage.
type IssuePriority string

const (
	PriorityLow    IssuePriority = "low"
	PriorityMedium IssuePriority = "medium"
	PriorityHigh   IssuePriority = "high"
)

// Valid reports whether p is a known priority.
func (p IssuePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

var categoryPriority = map[IssueCategory]IssuePriority{
	CategoryAcademic:       PriorityHigh,
	CategoryExamination:    PriorityHigh,
	CategoryTechnical:      PriorityMedium,
	CategoryAdministrative: PriorityMedium,
	CategoryRegistration:   PriorityMedium,
	CategoryOther:          PriorityLow,
}

// PriorityForCategory returns the default priority for a category. Unknown
// categories map to low.
func PriorityForCategory(c IssueCategory) IssuePriority {
	if p, ok := categoryPriority[c]; ok {
		return p
	}
	return PriorityLow
}

// Optional metadata choice sets.
var (
	CourseUnits = []string{"CSC1100", "CSC1200", "CSC2100", "CSC2200", "CSC3100"}
	IssueYears  = []string{"1", "2", "3"}
	Semesters   = []string{"1", "2"}
)

// Issue is a student submitted report requiring lecturer or registrar action.
type Issue struct {
	ID                string        `db:"id" json:"id"`
	Title             string        `db:"title" json:"title"`
	Category          IssueCategory `db:"category" json:"category"`
	Description       string        `db:"description" json:"description"`
	Status            IssueStatus   `db:"status" json:"status"`
	Priority          IssuePriority `db:"priority" json:"priority"`
	CourseUnit        *string       `db:"course_unit" json:"course_unit,omitempty"`
	YearOfStudy       *string       `db:"year_of_study" json:"year_of_study,omitempty"`
	Semester          *string       `db:"semester" json:"semester,omitempty"`
	Attachment        *string       `db:"attachment" json:"attachment,omitempty"`
	StudentID         string        `db:"student_id" json:"student_id"`
	AssignedTo        *string       `db:"assigned_to" json:"assigned_to,omitempty"`
	ResolvedBy        *string       `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolutionComment *string       `db:"resolution_comment" json:"resolution_comment,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`

	StudentName         string  `db:"student_name" json:"student_name,omitempty"`
	StudentDepartmentID *string `db:"student_department_id" json:"student_department_id,omitempty"`
	AssignedToName      *string `db:"assigned_to_name" json:"assigned_to_name,omitempty"`
}

// IsAssignedTo reports whether userID is the assigned lecturer.
func (i *Issue) IsAssignedTo(userID string) bool {
	return i != nil && i.AssignedTo != nil && *i.AssignedTo == userID
}

// IssueFilter captures the listing criteria. The scope fields (StudentID,
// AssignedTo, DepartmentID) are set by the service from the actor, never
// from the request.
type IssueFilter struct {
	Status       *IssueStatus
	Category     *IssueCategory
	Priority     *IssuePriority
	Search       string
	StudentID    string
	AssignedTo   string
	DepartmentID string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
