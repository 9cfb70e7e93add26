package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

// RepositoryPort defines data access for role administration.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	ListResources(ctx context.Context) ([]Resource, error)
	CreateResource(ctx context.Context, res Resource) (Resource, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error)
	UpsertRule(ctx context.Context, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, roleID, resourceID uuid.UUID) error
	AssignRole(ctx context.Context, userID, roleID uuid.UUID, at time.Time) (bool, error)
	RevokeRole(ctx context.Context, userID, roleID uuid.UUID) error
	UserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error)
}

// Invalidator drops cached rule tables after a write.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Service orchestrates RBAC administration. Every write that can change a
// decision invalidates the rule snapshot.
type Service struct {
	repo   RepositoryPort
	rules  Invalidator
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, rules Invalidator, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, rules: rules, audit: audit, logger: logger, now: time.Now}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrInvalid)
	}
	return s.repo.CreateRole(ctx, Role{
		ID:          uuid.New(),
		Name:        name,
		Description: strings.TrimSpace(description),
		CreatedAt:   s.now().UTC(),
	})
}

// ListResources returns all protected resources.
func (s *Service) ListResources(ctx context.Context) ([]Resource, error) {
	return s.repo.ListResources(ctx)
}

// CreateResource registers a protected resource name.
func (s *Service) CreateResource(ctx context.Context, name, description string) (Resource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Resource{}, fmt.Errorf("rbac: resource name required: %w", shared.ErrInvalid)
	}
	res, err := s.repo.CreateResource(ctx, Resource{ID: uuid.New(), Name: name, Description: strings.TrimSpace(description)})
	if err != nil {
		return Resource{}, err
	}
	s.invalidate(ctx)
	return res, nil
}

// ListRules returns rules, optionally narrowed to a role or resource.
func (s *Service) ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	return s.repo.ListRules(ctx, filter)
}

// UpsertRule sets the grants of a role on a resource.
func (s *Service) UpsertRule(ctx context.Context, actorID, roleID, resourceID uuid.UUID, grants Grant) (Rule, error) {
	rule, err := s.repo.UpsertRule(ctx, Rule{ID: uuid.New(), RoleID: roleID, ResourceID: resourceID, Grants: grants})
	if err != nil {
		return Rule{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditRuleUpserted,
		Entity:   "access_role_rules",
		EntityID: rule.ID.String(),
		Meta:     map[string]any{"role_id": roleID, "resource_id": resourceID, "grants": uint8(grants)},
	})
	return rule, nil
}

// DeleteRule removes the rule of a (role, resource) pair.
func (s *Service) DeleteRule(ctx context.Context, roleID, resourceID uuid.UUID) error {
	if err := s.repo.DeleteRule(ctx, roleID, resourceID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// AssignRole gives userID the role. An existing assignment is not an error;
// created reports whether a new link was made.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID uuid.UUID) (bool, error) {
	created, err := s.repo.AssignRole(ctx, userID, roleID, s.now().UTC())
	if err != nil {
		return false, err
	}
	if created {
		s.record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   shared.AuditRoleAssigned,
			Entity:   "users",
			EntityID: userID.String(),
			Meta:     map[string]any{"role_id": roleID},
		})
	}
	return created, nil
}

// RevokeRole removes the role from userID. A missing assignment yields
// ErrAssignmentNotFound.
func (s *Service) RevokeRole(ctx context.Context, actorID, userID, roleID uuid.UUID) error {
	if err := s.repo.RevokeRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditRoleRevoked,
		Entity:   "users",
		EntityID: userID.String(),
		Meta:     map[string]any{"role_id": roleID},
	})
	return nil
}

// UserRoles lists the roles of a user.
func (s *Service) UserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	return s.repo.UserRoles(ctx, userID)
}

func (s *Service) invalidate(ctx context.Context) {
	if s.rules == nil {
		return
	}
	if err := s.rules.Invalidate(ctx); err != nil {
		s.logger.Warn("rbac invalidate rules", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, entry shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record", slog.String("action", entry.Action), slog.Any("error", err))
	}
}
