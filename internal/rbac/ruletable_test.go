package rbac

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

type fixture struct {
	admin    shared.RoleRef
	manager  shared.RoleRef
	user     shared.RoleRef
	guest    shared.RoleRef
	products Resource
	orders   Resource
	settings Resource
	table    *RuleTable
}

func newFixture() fixture {
	f := fixture{
		admin:    shared.RoleRef{ID: uuid.New(), Name: "Admin"},
		manager:  shared.RoleRef{ID: uuid.New(), Name: "Manager"},
		user:     shared.RoleRef{ID: uuid.New(), Name: "User"},
		guest:    shared.RoleRef{ID: uuid.New(), Name: "Guest"},
		products: Resource{ID: uuid.New(), Name: "products"},
		orders:   Resource{ID: uuid.New(), Name: "orders"},
		settings: Resource{ID: uuid.New(), Name: "settings"},
	}
	all := GrantReadOwn | GrantReadAll | GrantCreate | GrantUpdateOwn | GrantUpdateAll | GrantDeleteOwn | GrantDeleteAll
	f.table = NewRuleTable(Snapshot{
		Resources: []Resource{f.products, f.orders, f.settings},
		Rules: []SnapshotRule{
			{RoleID: f.admin.ID, ResourceID: f.products.ID, Grants: all},
			{RoleID: f.admin.ID, ResourceID: f.settings.ID, Grants: all},
			{RoleID: f.manager.ID, ResourceID: f.products.ID, Grants: GrantReadAll | GrantCreate | GrantUpdateAll},
			{RoleID: f.user.ID, ResourceID: f.products.ID, Grants: GrantReadOwn | GrantCreate | GrantUpdateOwn},
			{RoleID: f.user.ID, ResourceID: f.orders.ID, Grants: GrantReadOwn | GrantCreate | GrantUpdateOwn | GrantDeleteOwn},
			{RoleID: f.guest.ID, ResourceID: f.products.ID, Grants: GrantReadAll},
		},
	})
	return f
}

func principal(roles ...shared.RoleRef) shared.Principal {
	return shared.Principal{ID: uuid.New(), Email: "someone@example.com", Active: true, Roles: roles}
}

func TestAuthorizeUserOnProducts(t *testing.T) {
	f := newFixture()
	u := principal(f.user)
	owner := u.ID
	stranger := uuid.New()

	assert.True(t, f.table.Authorize(u, "products", ActionUpdate, &owner))
	assert.False(t, f.table.Authorize(u, "products", ActionDelete, &owner))
	assert.True(t, f.table.Authorize(u, "products", ActionRead, &stranger))
	assert.True(t, f.table.Authorize(u, "products", ActionCreate, nil))
	assert.False(t, f.table.Authorize(u, "products", ActionUpdate, &stranger))
	assert.False(t, f.table.Authorize(u, "products", ActionUpdate, nil))
}

func TestAuthorizeAllGrantIgnoresOwnership(t *testing.T) {
	f := newFixture()
	m := principal(f.manager)
	other := uuid.New()

	assert.True(t, f.table.Authorize(m, "products", ActionUpdate, &other))
	assert.True(t, f.table.Authorize(m, "products", ActionUpdate, nil))
	assert.False(t, f.table.Authorize(m, "products", ActionDelete, &other))
}

func TestAuthorizeOwnDeleteRequiresOwnership(t *testing.T) {
	f := newFixture()
	u := principal(f.user)
	mine := u.ID
	theirs := uuid.New()

	assert.True(t, f.table.Authorize(u, "orders", ActionDelete, &mine))
	assert.False(t, f.table.Authorize(u, "orders", ActionDelete, &theirs))
	assert.False(t, f.table.Authorize(u, "orders", ActionDelete, nil))
}

func TestAuthorizeDeniesWithoutRoles(t *testing.T) {
	f := newFixture()
	p := principal()
	for _, action := range []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete} {
		assert.False(t, f.table.Authorize(p, "products", action, &p.ID), action.String())
	}
}

func TestAuthorizeDeniesInactivePrincipal(t *testing.T) {
	f := newFixture()
	p := principal(f.admin)
	p.Active = false
	assert.False(t, f.table.Authorize(p, "products", ActionRead, nil))
	assert.Equal(t, ScopeNone, f.table.ReadScope(p, "products"))
}

func TestAuthorizeMissingRuleDenies(t *testing.T) {
	f := newFixture()
	g := principal(f.guest)
	for _, action := range []Action{ActionRead, ActionCreate, ActionUpdate, ActionDelete} {
		assert.False(t, f.table.Authorize(g, "orders", action, &g.ID), action.String())
	}
	assert.False(t, f.table.Authorize(principal(f.manager), "settings", ActionRead, nil))
}

func TestAuthorizeUnknownResourceAndAction(t *testing.T) {
	f := newFixture()
	a := principal(f.admin)
	assert.False(t, f.table.Authorize(a, "invoices", ActionRead, nil))
	assert.False(t, f.table.Authorize(a, "Products", ActionRead, nil))
	assert.False(t, f.table.Authorize(a, "products", ActionUnknown, nil))
	assert.False(t, f.table.Authorize(a, "products", Action(42), nil))
}

func TestAuthorizeORsAcrossRoles(t *testing.T) {
	f := newFixture()
	p := principal(f.guest, f.user)
	mine := p.ID
	assert.True(t, f.table.Authorize(p, "products", ActionUpdate, &mine))
	assert.True(t, f.table.Authorize(p, "orders", ActionCreate, nil))

	// Order of roles does not matter.
	q := principal(f.user, f.guest)
	assert.Equal(t, f.table.ReadScope(principal(f.guest, f.user), "products"), f.table.ReadScope(q, "products"))
}

func TestReadScope(t *testing.T) {
	f := newFixture()
	assert.Equal(t, ScopeOwn, f.table.ReadScope(principal(f.user), "products"))
	assert.Equal(t, ScopeAll, f.table.ReadScope(principal(f.guest), "products"))
	assert.Equal(t, ScopeAll, f.table.ReadScope(principal(f.user, f.guest), "products"))
	assert.Equal(t, ScopeNone, f.table.ReadScope(principal(f.guest), "orders"))
	assert.Equal(t, ScopeNone, f.table.ReadScope(principal(f.admin), "unknown"))
}

func TestNilTableDenies(t *testing.T) {
	var table *RuleTable
	p := principal(shared.RoleRef{ID: uuid.New(), Name: "Admin"})
	assert.False(t, table.Authorize(p, "products", ActionRead, nil))
	assert.Equal(t, ScopeNone, table.ReadScope(p, "products"))
}

func TestGrantFlagsRoundTrip(t *testing.T) {
	for g := Grant(0); g < 1<<7; g++ {
		assert.Equal(t, g, g.Flags().Grant())
	}
}

func TestParseAction(t *testing.T) {
	cases := map[string]Action{"read": ActionRead, "CREATE": ActionCreate, " update ": ActionUpdate, "delete": ActionDelete}
	for raw, want := range cases {
		got, ok := ParseAction(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	got, ok := ParseAction("approve")
	assert.False(t, ok)
	assert.Equal(t, ActionUnknown, got)

	assert.Equal(t, ActionRead, ActionForMethod("GET"))
	assert.Equal(t, ActionCreate, ActionForMethod("POST"))
	assert.Equal(t, ActionUpdate, ActionForMethod("PATCH"))
	assert.Equal(t, ActionDelete, ActionForMethod("DELETE"))
	assert.Equal(t, ActionUnknown, ActionForMethod("TRACE"))
}
