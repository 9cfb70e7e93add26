package rbac

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// requirement lists the grants that satisfy an action. all grants apply to
// any record; own grants only when the principal owns the record.
type requirement struct {
	all Grant
	own Grant
}

var actionTable = map[Action]requirement{
	ActionRead:   {all: GrantReadOwn | GrantReadAll},
	ActionCreate: {all: GrantCreate},
	ActionUpdate: {all: GrantUpdateAll, own: GrantUpdateOwn},
	ActionDelete: {all: GrantDeleteAll, own: GrantDeleteOwn},
}

type grantKey struct {
	role     uuid.UUID
	resource uuid.UUID
}

// Snapshot is the serialisable content of a RuleTable.
type Snapshot struct {
	Resources []Resource     `json:"resources"`
	Rules     []SnapshotRule `json:"rules"`
}

// SnapshotRule is a rule in compact form.
type SnapshotRule struct {
	RoleID     uuid.UUID `json:"role_id"`
	ResourceID uuid.UUID `json:"resource_id"`
	Grants     Grant     `json:"grants"`
}

// RuleTable is an immutable in-memory view of every resource and rule. It
// answers authorization questions without touching storage.
type RuleTable struct {
	resources map[string]uuid.UUID
	grants    map[grantKey]Grant
}

// NewRuleTable indexes a snapshot. Resource names match exactly.
func NewRuleTable(s Snapshot) *RuleTable {
	t := &RuleTable{
		resources: make(map[string]uuid.UUID, len(s.Resources)),
		grants:    make(map[grantKey]Grant, len(s.Rules)),
	}
	for _, res := range s.Resources {
		t.resources[res.Name] = res.ID
	}
	for _, rule := range s.Rules {
		t.grants[grantKey{role: rule.RoleID, resource: rule.ResourceID}] = rule.Grants
	}
	return t
}

// Authorize decides whether p may perform action on resource. owner is the
// owner of the targeted record when known; nil means no ownership
// information, which never satisfies an own grant.
func (t *RuleTable) Authorize(p shared.Principal, resource string, action Action, owner *uuid.UUID) bool {
	if t == nil || !p.Active || len(p.Roles) == 0 {
		return false
	}
	req, ok := actionTable[action]
	if !ok {
		return false
	}
	resourceID, ok := t.resources[resource]
	if !ok {
		return false
	}
	owns := owner != nil && *owner == p.ID
	for _, role := range p.Roles {
		g := t.grants[grantKey{role: role.ID, resource: resourceID}]
		if g&req.all != 0 {
			return true
		}
		if owns && g&req.own != 0 {
			return true
		}
	}
	return false
}

// ReadScope reports how widely p may read resource. Callers use it to filter
// listings: ScopeOwn means only records owned by p.
func (t *RuleTable) ReadScope(p shared.Principal, resource string) Scope {
	if t == nil || !p.Active || len(p.Roles) == 0 {
		return ScopeNone
	}
	resourceID, ok := t.resources[resource]
	if !ok {
		return ScopeNone
	}
	scope := ScopeNone
	for _, role := range p.Roles {
		g := t.grants[grantKey{role: role.ID, resource: resourceID}]
		if g.Has(GrantReadAll) {
			return ScopeAll
		}
		if g.Has(GrantReadOwn) {
			scope = ScopeOwn
		}
	}
	return scope
}
