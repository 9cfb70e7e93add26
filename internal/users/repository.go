package users

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

const userColumns = `id, email, first_name, last_name, patronymic, password_hash, is_active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID fetches a user by identifier.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// FindByEmail fetches a user by its stored (already normalised) email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// FindPrincipal materialises a principal together with its roles in one round trip.
func (r *Repository) FindPrincipal(ctx context.Context, id uuid.UUID) (shared.Principal, error) {
	const query = `
SELECT u.id, u.email, u.is_active,
       COALESCE(array_agg(r.id::text ORDER BY r.name) FILTER (WHERE r.id IS NOT NULL), '{}'),
       COALESCE(array_agg(r.name ORDER BY r.name) FILTER (WHERE r.id IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_roles ur ON ur.user_id = u.id
LEFT JOIN roles r ON r.id = ur.role_id
WHERE u.id = $1
GROUP BY u.id`
	var (
		p         shared.Principal
		roleIDs   []string
		roleNames []string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.Email, &p.Active, &roleIDs, &roleNames)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return shared.Principal{}, shared.ErrNotFound
		}
		return shared.Principal{}, fmt.Errorf("users: find principal: %w", err)
	}
	p.Roles = make([]shared.RoleRef, 0, len(roleIDs))
	for i, raw := range roleIDs {
		roleID, err := uuid.Parse(raw)
		if err != nil {
			return shared.Principal{}, fmt.Errorf("users: parse role id %q: %w", raw, err)
		}
		p.Roles = append(p.Roles, shared.RoleRef{ID: roleID, Name: roleNames[i]})
	}
	return p, nil
}

// Create inserts a new user and, when roleName is set, links it to that role
// in the same transaction. Duplicate emails yield shared.ErrConflict. A
// missing role is not an error.
func (r *Repository) Create(ctx context.Context, u User, roleName string) (User, error) {
	var created User
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
INSERT INTO users (id, email, first_name, last_name, patronymic, password_hash, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
RETURNING `+userColumns,
			u.ID, u.Email, u.FirstName, u.LastName, u.Patronymic, u.PasswordHash, u.IsActive, u.CreatedAt)
		var err error
		created, err = scanUser(row)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Errorf("users: email already registered: %w", shared.ErrConflict)
			}
			return err
		}
		if roleName == "" {
			return nil
		}
		_, err = tx.Exec(ctx, `
INSERT INTO user_roles (user_id, role_id, assigned_at)
SELECT $1, id, $3 FROM roles WHERE name = $2
ON CONFLICT (user_id, role_id) DO NOTHING`, created.ID, roleName, u.CreatedAt)
		if err != nil {
			return fmt.Errorf("users: assign default role: %w", err)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return created, nil
}

// UpdateProfile applies the non-nil profile fields.
func (r *Repository) UpdateProfile(ctx context.Context, id uuid.UUID, in ProfileInput, at time.Time) (User, error) {
	row := r.pool.QueryRow(ctx, `
UPDATE users
SET first_name = COALESCE($2, first_name),
    last_name = COALESCE($3, last_name),
    patronymic = COALESCE($4, patronymic),
    updated_at = $5
WHERE id = $1
RETURNING `+userColumns, id, in.FirstName, in.LastName, in.Patronymic, at)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, err
		}
		return User{}, fmt.Errorf("users: update profile: %w", err)
	}
	return u, nil
}

// SetActive flips the soft-delete flag.
func (r *Repository) SetActive(ctx context.Context, id uuid.UUID, active bool, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
	if err != nil {
		return fmt.Errorf("users: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListUsers returns all users, newest first.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Patronymic, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

var _ RepositoryPort = (*Repository)(nil)
