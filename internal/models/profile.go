package models

import (
	"fmt"
	"time"
)

// Choice sets accepted at registration.
var (
	Colleges = []string{
		"College of Computing",
		"College Of Humanity And Social Sciences",
		"College Of Engineering",
		"College Of Education",
	}
	Courses = []string{
		"Computer Science",
		"Software Engineering",
		"Library and Information",
		"Information Technology",
	}
	YearsOfStudy = []string{"First Year", "Second Year", "Third Year"}
)

// DefaultFaculty is used for departments missing from DepartmentFaculties.
const DefaultFaculty = "Faculty of Computing"

// DepartmentFaculties maps the known departments to their owning faculty.
var DepartmentFaculties = map[string]string{
	"Department of Computer Science":                "College of Computing",
	"Department Of Software Engineering":            "College of Computing",
	"Department of Library And Information System": "College Of Humanity And Social Sciences",
	"Department Of Information Technology":          "College of Computing",
}

// FacultyFor returns the faculty owning the named department.
func FacultyFor(department string) string {
	if faculty, ok := DepartmentFaculties[department]; ok {
		return faculty
	}
	return DefaultFaculty
}

// Contains reports whether value is a member of choices.
func Contains(choices []string, value string) bool {
	for _, c := range choices {
		if c == value {
			return true
		}
	}
	return false
}

// Department groups lecturers and students. Departments are created on
// demand during registration and never deleted.
type Department struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Faculty   string    `db:"faculty" json:"faculty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StudentProfile holds the student-only attributes of a user.
type StudentProfile struct {
	UserID         string `db:"user_id" json:"-"`
	College        string `db:"college" json:"college"`
	DepartmentID   string `db:"department_id" json:"department_id"`
	DepartmentName string `db:"department_name" json:"department_name,omitempty"`
	Course         string `db:"course" json:"course"`
	YearOfStudy    string `db:"year_of_study" json:"year_of_study"`
}

// LecturerProfile holds the lecturer-only attributes of a user.
type LecturerProfile struct {
	UserID         string `db:"user_id" json:"-"`
	DepartmentID   string `db:"department_id" json:"department_id"`
	DepartmentName string `db:"department_name" json:"department_name,omitempty"`
}

// RegistrarProfile holds the registrar-only attributes of a user.
type RegistrarProfile struct {
	UserID         string `db:"user_id" json:"-"`
	College        string `db:"college" json:"college"`
	DepartmentID   string `db:"department_id" json:"department_id"`
	DepartmentName string `db:"department_name" json:"department_name,omitempty"`
}

// Profile is a tagged variant: exactly one of its pointers is set and it
// must match the owning user's role.
type Profile struct {
	Student   *StudentProfile   `json:"student,omitempty"`
	Lecturer  *LecturerProfile  `json:"lecturer,omitempty"`
	Registrar *RegistrarProfile `json:"registrar,omitempty"`
}

// Validate checks that exactly one variant is present and that it matches role.
func (p Profile) Validate(role UserRole) error {
	set := 0
	var got UserRole
	if p.Student != nil {
		set++
		got = RoleStudent
	}
	if p.Lecturer != nil {
		set++
		got = RoleLecturer
	}
	if p.Registrar != nil {
		set++
		got = RoleRegistrar
	}
	switch {
	case set == 0:
		return fmt.Errorf("profile missing for role %q", role)
	case set > 1:
		return fmt.Errorf("profile has %d variants, expected one", set)
	case got != role:
		return fmt.Errorf("profile variant %q does not match role %q", got, role)
	}
	return nil
}

// DepartmentID returns the department of whichever variant is set.
func (p Profile) DepartmentID() string {
	switch {
	case p.Student != nil:
		return p.Student.DepartmentID
	case p.Lecturer != nil:
		return p.Lecturer.DepartmentID
	case p.Registrar != nil:
		return p.Registrar.DepartmentID
	}
	return ""
}

// SetUserID stamps the owning user on the present variant.
func (p *Profile) SetUserID(id string) {
	switch {
	case p.Student != nil:
		p.Student.UserID = id
	case p.Lecturer != nil:
		p.Lecturer.UserID = id
	case p.Registrar != nil:
		p.Registrar.UserID = id
	}
}

// SetDepartmentID stamps the resolved department on the present variant.
func (p *Profile) SetDepartmentID(id string) {
	switch {
	case p.Student != nil:
		p.Student.DepartmentID = id
	case p.Lecturer != nil:
		p.Lecturer.DepartmentID = id
	case p.Registrar != nil:
		p.Registrar.DepartmentID = id
	}
}
