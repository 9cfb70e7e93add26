package rbac

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

var (
	// ErrRoleNotFound indicates the role does not exist.
	ErrRoleNotFound = fmt.Errorf("rbac: role not found: %w", shared.ErrNotFound)
	// ErrResourceNotFound indicates the protected resource does not exist.
	ErrResourceNotFound = fmt.Errorf("rbac: resource not found: %w", shared.ErrNotFound)
	// ErrAssignmentNotFound indicates the user does not hold the role.
	ErrAssignmentNotFound = fmt.Errorf("rbac: role not assigned: %w", shared.ErrNotFound)
)

// Role represents a named grouping of grants.
type Role struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Resource is a named protected business element.
type Resource struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

// Assignment links a user to a role.
type Assignment struct {
	UserID     uuid.UUID `json:"user_id"`
	RoleID     uuid.UUID `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Rule holds the grants a role has on one resource.
type Rule struct {
	ID         uuid.UUID `json:"id"`
	RoleID     uuid.UUID `json:"role_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Grants     Grant     `json:"-"`
}

// Grant is a bitset of the seven permission flags of a rule.
type Grant uint8

const (
	GrantReadOwn Grant = 1 << iota
	GrantReadAll
	GrantCreate
	GrantUpdateOwn
	GrantUpdateAll
	GrantDeleteOwn
	GrantDeleteAll
)

// Has reports whether every bit of flag is set.
func (g Grant) Has(flag Grant) bool {
	return flag != 0 && g&flag == flag
}

// RuleFlags is the boolean column form of a Grant.
type RuleFlags struct {
	Read      bool `json:"read_permission"`
	ReadAll   bool `json:"read_all_permission"`
	Create    bool `json:"create_permission"`
	Update    bool `json:"update_permission"`
	UpdateAll bool `json:"update_all_permission"`
	Delete    bool `json:"delete_permission"`
	DeleteAll bool `json:"delete_all_permission"`
}

// Flags expands g into its boolean form.
func (g Grant) Flags() RuleFlags {
	return RuleFlags{
		Read:      g.Has(GrantReadOwn),
		ReadAll:   g.Has(GrantReadAll),
		Create:    g.Has(GrantCreate),
		Update:    g.Has(GrantUpdateOwn),
		UpdateAll: g.Has(GrantUpdateAll),
		Delete:    g.Has(GrantDeleteOwn),
		DeleteAll: g.Has(GrantDeleteAll),
	}
}

// Grant packs the boolean form back into a bitset.
func (f RuleFlags) Grant() Grant {
	var g Grant
	set := func(on bool, flag Grant) {
		if on {
			g |= flag
		}
	}
	set(f.Read, GrantReadOwn)
	set(f.ReadAll, GrantReadAll)
	set(f.Create, GrantCreate)
	set(f.Update, GrantUpdateOwn)
	set(f.UpdateAll, GrantUpdateAll)
	set(f.Delete, GrantDeleteOwn)
	set(f.DeleteAll, GrantDeleteAll)
	return g
}

// RuleView is the JSON shape of a rule.
type RuleView struct {
	ID         uuid.UUID `json:"id"`
	RoleID     uuid.UUID `json:"role_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	RuleFlags
}

// View returns the JSON shape of r.
func (r Rule) View() RuleView {
	return RuleView{ID: r.ID, RoleID: r.RoleID, ResourceID: r.ResourceID, RuleFlags: r.Grants.Flags()}
}

// Action is the closed set of operations a rule can grant.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionRead
	ActionCreate
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ParseAction maps a wire name to an Action. Unrecognised names yield
// ActionUnknown and false.
func ParseAction(raw string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "read":
		return ActionRead, true
	case "create":
		return ActionCreate, true
	case "update":
		return ActionUpdate, true
	case "delete":
		return ActionDelete, true
	default:
		return ActionUnknown, false
	}
}

// ActionForMethod maps an HTTP method to the action it performs.
func ActionForMethod(method string) Action {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ActionRead
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionUnknown
	}
}

// Scope tells a caller which rows of a resource a principal may read.
type Scope uint8

const (
	ScopeNone Scope = iota
	ScopeOwn
	ScopeAll
)

func (s Scope) String() string {
	switch s {
	case ScopeOwn:
		return "own"
	case ScopeAll:
		return "all"
	default:
		return "none"
	}
}
