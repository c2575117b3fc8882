// Package policy decides whether an actor may perform an action on issues.
// Decisions are pure: the engine reads only its arguments and never fails.
package policy

import (
	"fmt"

	"github.com/noah-isme/aits-api/internal/models"
	appErrors "github.com/noah-isme/aits-api/pkg/errors"
)

// Action names an operation on issues.
type Action string

const (
	ActionList   Action = "issue:list"
	ActionRead   Action = "issue:read"
	ActionCreate Action = "issue:create"
	ActionEdit   Action = "issue:edit"
	ActionStatus Action = "issue:status"
	ActionAssign Action = "issue:assign"
	ActionDelete Action = "issue:delete"
	ActionAttach Action = "issue:attach"
	ActionExport Action = "issue:export"
)

// Scope selects which issues a lecturer may act on.
type Scope string

const (
	// ScopeAssigned limits lecturers to issues assigned to them.
	ScopeAssigned Scope = "assigned"
	// ScopeDepartment additionally admits issues raised by students of the
	// lecturer's own department.
	ScopeDepartment Scope = "department"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID       string
	Role         models.UserRole
	DepartmentID string
}

// ActorFromClaims builds an actor from verified token claims.
func ActorFromClaims(claims *models.JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role, DepartmentID: claims.DepartmentID}
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a denial into a FORBIDDEN error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, d.Reason)
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...interface{}) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

type roleSet map[models.UserRole]struct{}

func roles(rs ...models.UserRole) roleSet {
	set := make(roleSet, len(rs))
	for _, r := range rs {
		set[r] = struct{}{}
	}
	return set
}

var roleTable = map[Action]roleSet{
	ActionList:   roles(models.RoleStudent, models.RoleLecturer, models.RoleRegistrar),
	ActionRead:   roles(models.RoleStudent, models.RoleLecturer, models.RoleRegistrar),
	ActionCreate: roles(models.RoleStudent),
	ActionEdit:   roles(models.RoleStudent, models.RoleLecturer, models.RoleRegistrar),
	ActionStatus: roles(models.RoleLecturer, models.RoleRegistrar),
	ActionAssign: roles(models.RoleRegistrar),
	ActionDelete: roles(models.RoleStudent, models.RoleRegistrar),
	ActionAttach: roles(models.RoleStudent, models.RoleRegistrar),
	ActionExport: roles(models.RoleRegistrar),
}

// Engine evaluates the role table and the per-issue object gate.
type Engine struct {
	scope Scope
}

// New builds an engine. Unknown scopes fall back to ScopeAssigned.
func New(scope Scope) *Engine {
	if scope != ScopeDepartment {
		scope = ScopeAssigned
	}
	return &Engine{scope: scope}
}

// Authorize decides whether actor may perform action, optionally against
// a specific target issue.
func (e *Engine) Authorize(actor Actor, action Action, target *models.Issue) Decision {
	if actor.UserID == "" || !actor.Role.Valid() {
		return deny("authentication required")
	}
	allowed, ok := roleTable[action]
	if !ok {
		return deny("unknown action %q", action)
	}
	if _, ok := allowed[actor.Role]; !ok {
		return deny("role %s may not perform %s", actor.Role, action)
	}
	if target == nil {
		return allow()
	}
	return e.objectGate(actor, target)
}

func (e *Engine) objectGate(actor Actor, issue *models.Issue) Decision {
	switch actor.Role {
	case models.RoleRegistrar:
		return allow()
	case models.RoleStudent:
		if issue.StudentID == actor.UserID {
			return allow()
		}
		return deny("issue belongs to another student")
	case models.RoleLecturer:
		if issue.IsAssignedTo(actor.UserID) {
			return allow()
		}
		if e.scope == ScopeDepartment && actor.DepartmentID != "" &&
			issue.StudentDepartmentID != nil && *issue.StudentDepartmentID == actor.DepartmentID {
			return allow()
		}
		return deny("issue is not assigned to you")
	}
	return deny("role %s has no issue access", actor.Role)
}

// ScopeFilter restricts a listing filter to the issues actor may see.
func (e *Engine) ScopeFilter(actor Actor, filter *models.IssueFilter) {
	filter.StudentID = ""
	filter.AssignedTo = ""
	filter.DepartmentID = ""
	switch actor.Role {
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	case models.RoleLecturer:
		filter.AssignedTo = actor.UserID
		if e.scope == ScopeDepartment {
			filter.DepartmentID = actor.DepartmentID
		}
	}
}

var defaultEngine = New(ScopeAssigned)

// Default returns the shared engine with the assigned-only lecturer scope.
func Default() *Engine {
	return defaultEngine
}
