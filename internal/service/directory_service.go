package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/noah-isme/aits-api/internal/models"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
)

type departmentLister interface {
	List(ctx context.Context) ([]models.Department, error)
}

type lecturerLister interface {
	ListLecturers(ctx context.Context, departmentID string) ([]models.Lecturer, error)
}

// DirectoryService exposes departments and lecturers for assignment pickers.
type DirectoryService struct {
	departments departmentLister
	lecturers   lecturerLister
	logger      *zap.Logger
}

// NewDirectoryService constructs a DirectoryService.
func NewDirectoryService(departments departmentLister, lecturers lecturerLister, logger *zap.Logger) *DirectoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryService{departments: departments, lecturers: lecturers, logger: logger}
}

// ListDepartments returns every department.
func (s *DirectoryService) ListDepartments(ctx context.Context) ([]models.Department, error) {
	items, err := s.departments.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list departments")
	}
	if items == nil {
		items = []models.Department{}
	}
	return items, nil
}

// ListLecturers returns active lecturers, optionally within one department.
func (s *DirectoryService) ListLecturers(ctx context.Context, departmentID string) ([]models.Lecturer, error) {
	items, err := s.lecturers.ListLecturers(ctx, departmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lecturers")
	}
	if items == nil {
		items = []models.Lecturer{}
	}
	return items, nil
}
