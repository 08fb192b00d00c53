package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	obslogger "github.com/smallbiznis/edupoints/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectScope  = "scope"
	ObjectLedger = "ledger"
	ObjectRole   = "role"
	ObjectAudit  = "audit_log"
)

const (
	ActionQuotaAdjust    = "quota.adjust"
	ActionQuotaProvision = "quota.provision"
	ActionQuotaReverse   = "quota.reverse"
	ActionQuotaNotices   = "quota.notices"
	ActionRoleAssign     = "role.assign"
	ActionAuditView      = "audit.view"
)

const (
	RoleSystem   = "role:system"
	RoleOperator = "role:operator"
	RoleOrgAdmin = "role:org_admin"

	ActorSystem = "system"
)

var knownRoles = map[string]struct{}{
	RoleSystem:   {},
	RoleOperator: {},
	RoleOrgAdmin: {},
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, domain string, object string, action string) error {
	subject, err := normalizeActor(actor)
	if err != nil {
		return err
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ErrInvalidDomain
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("subject", subject),
		zap.String("domain", domain),
		zap.String("object", object),
		zap.String("action", action),
	)
	if !allowed {
		log.Warn("authorization.denied")
		return ErrForbidden
	}
	if shouldLogGrant(action) {
		log.Info("authorization.granted")
	}
	return nil
}

func (s *ServiceImpl) AssignRole(ctx context.Context, actor string, role string, domain string) error {
	subject, role, domain, err := normalizeGrouping(actor, role, domain)
	if err != nil {
		return err
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, role, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := s.enforcer.AddGroupingPolicy(subject, role, domain); err != nil {
		return err
	}
	obslogger.WithContext(ctx, s.log).Info("role assigned",
		zap.String("subject", subject),
		zap.String("role", role),
		zap.String("domain", domain),
	)
	return nil
}

func (s *ServiceImpl) RevokeRole(ctx context.Context, actor string, role string, domain string) error {
	subject, role, domain, err := normalizeGrouping(actor, role, domain)
	if err != nil {
		return err
	}
	removed, err := s.enforcer.RemoveGroupingPolicy(subject, role, domain)
	if err != nil {
		return err
	}
	if removed {
		obslogger.WithContext(ctx, s.log).Info("role revoked",
			zap.String("subject", subject),
			zap.String("role", role),
			zap.String("domain", domain),
		)
	}
	return nil
}

// normalizeActor accepts "system" or "user:<id>".
func normalizeActor(actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if actor == ActorSystem {
		return actor, nil
	}
	if strings.HasPrefix(actor, "user:") {
		userID, err := snowflake.ParseString(strings.TrimPrefix(actor, "user:"))
		if err != nil || userID <= 0 {
			return "", ErrInvalidActor
		}
		return fmt.Sprintf("user:%s", userID.String()), nil
	}
	return "", ErrInvalidActor
}

func normalizeGrouping(actor, role, domain string) (string, string, string, error) {
	subject, err := normalizeActor(actor)
	if err != nil {
		return "", "", "", err
	}
	if subject == ActorSystem {
		return "", "", "", ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !strings.HasPrefix(role, "role:") {
		role = "role:" + role
	}
	if _, ok := knownRoles[role]; !ok {
		return "", "", "", ErrInvalidRole
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return "", "", "", ErrInvalidDomain
	}
	return subject, role, domain, nil
}

func shouldLogGrant(action string) bool {
	switch action {
	case ActionQuotaProvision, ActionQuotaReverse, ActionRoleAssign:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Organization admins manage their own pool.
		{RoleOrgAdmin, ObjectScope, ActionQuotaAdjust},
		{RoleOrgAdmin, ObjectScope, ActionQuotaNotices},

		// Operators act on any scope.
		{RoleOperator, ObjectScope, ActionQuotaAdjust},
		{RoleOperator, ObjectScope, ActionQuotaProvision},
		{RoleOperator, ObjectScope, ActionQuotaNotices},
		{RoleOperator, ObjectLedger, ActionQuotaReverse},
		{RoleOperator, ObjectAudit, ActionAuditView},

		{RoleSystem, ObjectScope, ActionQuotaAdjust},
		{RoleSystem, ObjectScope, ActionQuotaProvision},
		{RoleSystem, ObjectScope, ActionQuotaNotices},
		{RoleSystem, ObjectLedger, ActionQuotaReverse},
		{RoleSystem, ObjectRole, ActionRoleAssign},
		{RoleSystem, ObjectAudit, ActionAuditView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	if _, err := enforcer.AddGroupingPolicy(ActorSystem, RoleSystem, GlobalDomain); err != nil {
		return err
	}
	return nil
}
