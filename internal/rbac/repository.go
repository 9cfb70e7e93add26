package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

const ruleColumns = `id, role_id, element_id, read_permission, read_all_permission, create_permission,
       update_permission, update_all_permission, delete_permission, delete_all_permission`

// RuleFilter narrows rule listings. Nil fields match everything.
type RuleFilter struct {
	RoleID     *uuid.UUID
	ResourceID *uuid.UUID
}

// Repository persists roles, resources, assignments and rules in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, description, created_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, fmt.Errorf("rbac: get role: %w", err)
	}
	return role, nil
}

// CreateRole inserts a new role. Duplicate names yield shared.ErrConflict.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	err := r.pool.QueryRow(ctx, `
INSERT INTO roles (id, name, description, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id, name, description, created_at`,
		role.ID, role.Name, role.Description, role.CreatedAt).
		Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, fmt.Errorf("rbac: role %q exists: %w", role.Name, shared.ErrConflict)
		}
		return Role{}, fmt.Errorf("rbac: create role: %w", err)
	}
	return role, nil
}

// ListResources returns all protected resources ordered by name.
func (r *Repository) ListResources(ctx context.Context) ([]Resource, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM business_elements ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list resources: %w", err)
	}
	defer rows.Close()
	var out []Resource
	for rows.Next() {
		var res Resource
		if err := rows.Scan(&res.ID, &res.Name, &res.Description); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// CreateResource inserts a protected resource.
func (r *Repository) CreateResource(ctx context.Context, res Resource) (Resource, error) {
	_, err := r.pool.Exec(ctx, `INSERT INTO business_elements (id, name, description) VALUES ($1, $2, $3)`,
		res.ID, res.Name, res.Description)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Resource{}, fmt.Errorf("rbac: resource %q exists: %w", res.Name, shared.ErrConflict)
		}
		return Resource{}, fmt.Errorf("rbac: create resource: %w", err)
	}
	return res, nil
}

// ListRules returns rules matching the filter.
func (r *Repository) ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+ruleColumns+`
FROM access_role_rules
WHERE ($1::uuid IS NULL OR role_id = $1)
  AND ($2::uuid IS NULL OR element_id = $2)
ORDER BY role_id, element_id`, nullUUID(filter.RoleID), nullUUID(filter.ResourceID))
	if err != nil {
		return nil, fmt.Errorf("rbac: list rules: %w", err)
	}
	defer rows.Close()
	var out []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// UpsertRule creates or replaces the rule of a (role, resource) pair.
func (r *Repository) UpsertRule(ctx context.Context, rule Rule) (Rule, error) {
	f := rule.Grants.Flags()
	row := r.pool.QueryRow(ctx, `
INSERT INTO access_role_rules (id, role_id, element_id, read_permission, read_all_permission, create_permission,
                               update_permission, update_all_permission, delete_permission, delete_all_permission)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (role_id, element_id) DO UPDATE SET
    read_permission = EXCLUDED.read_permission,
    read_all_permission = EXCLUDED.read_all_permission,
    create_permission = EXCLUDED.create_permission,
    update_permission = EXCLUDED.update_permission,
    update_all_permission = EXCLUDED.update_all_permission,
    delete_permission = EXCLUDED.delete_permission,
    delete_all_permission = EXCLUDED.delete_all_permission
RETURNING `+ruleColumns,
		rule.ID, rule.RoleID, rule.ResourceID, f.Read, f.ReadAll, f.Create, f.Update, f.UpdateAll, f.Delete, f.DeleteAll)
	saved, err := scanRule(row)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Rule{}, fmt.Errorf("rbac: rule references unknown role or resource: %w", shared.ErrNotFound)
		}
		return Rule{}, fmt.Errorf("rbac: upsert rule: %w", err)
	}
	return saved, nil
}

// DeleteRule removes the rule of a (role, resource) pair.
func (r *Repository) DeleteRule(ctx context.Context, roleID, resourceID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM access_role_rules WHERE role_id = $1 AND element_id = $2`, roleID, resourceID)
	if err != nil {
		return fmt.Errorf("rbac: delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: rule not found: %w", shared.ErrNotFound)
	}
	return nil
}

// AssignRole links a role to a user. created is false when the assignment
// already existed.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID uuid.UUID, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
INSERT INTO user_roles (user_id, role_id, assigned_at) VALUES ($1, $2, $3)
ON CONFLICT (user_id, role_id) DO NOTHING`, userID, roleID, at)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return false, fmt.Errorf("rbac: unknown user or role: %w", shared.ErrNotFound)
		}
		return false, fmt.Errorf("rbac: assign role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeRole removes a role assignment.
func (r *Repository) RevokeRole(ctx context.Context, userID, roleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return fmt.Errorf("rbac: revoke role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// UserRoles lists the roles assigned to a user.
func (r *Repository) UserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
SELECT r.id, r.name, r.description, r.created_at
FROM roles r
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1
ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// LoadSnapshot reads every resource and rule in one repeatable-read
// transaction so the pair is consistent.
func (r *Repository) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, name, description FROM business_elements`)
		if err != nil {
			return err
		}
		for rows.Next() {
			var res Resource
			if err := rows.Scan(&res.ID, &res.Name, &res.Description); err != nil {
				rows.Close()
				return err
			}
			snap.Resources = append(snap.Resources, res)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		rows, err = tx.Query(ctx, `SELECT `+ruleColumns+` FROM access_role_rules`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			rule, err := scanRule(rows)
			if err != nil {
				return err
			}
			snap.Rules = append(snap.Rules, SnapshotRule{RoleID: rule.RoleID, ResourceID: rule.ResourceID, Grants: rule.Grants})
		}
		return rows.Err()
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("rbac: load snapshot: %w", err)
	}
	return snap, nil
}

func scanRule(row pgx.Row) (Rule, error) {
	var (
		rule Rule
		f    RuleFlags
	)
	err := row.Scan(&rule.ID, &rule.RoleID, &rule.ResourceID, &f.Read, &f.ReadAll, &f.Create, &f.Update, &f.UpdateAll, &f.Delete, &f.DeleteAll)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, fmt.Errorf("rbac: rule not found: %w", shared.ErrNotFound)
		}
		return Rule{}, err
	}
	rule.Grants = f.Grant()
	return rule, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
