package service

import (
	"cmp"
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/edupoints/internal/audit/domain"
	"github.com/smallbiznis/edupoints/internal/clock"
	obscontext "github.com/smallbiznis/edupoints/internal/observability/context"
	"github.com/smallbiznis/edupoints/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const actorTypeSystem = "system"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record writes one audit row. Actor, client and request id come from the
// request context; the scope falls back to the one the handler resolved.
func (s *Service) Record(ctx context.Context, event auditdomain.Event) error {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	entry := s.entryFor(ctx, action, event)
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("scope", entry.Scope),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) entryFor(ctx context.Context, action string, event auditdomain.Event) auditdomain.AuditLog {
	scope := cmp.Or(strings.TrimSpace(event.Scope), obscontext.ScopeFromContext(ctx))
	actorType, actorID := obscontext.ActorFromContext(ctx)
	ipAddress, userAgent := obscontext.ClientFromContext(ctx)

	return auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		Scope:      scope,
		ActorType:  cmp.Or(strings.TrimSpace(actorType), actorTypeSystem),
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: cmp.Or(strings.TrimSpace(event.TargetType), "unknown"),
		TargetID:   optional(event.TargetID),
		Metadata:   metadataFor(ctx, event.Metadata),
		IPAddress:  optional(ipAddress),
		UserAgent:  optional(userAgent),
		CreatedAt:  s.now(),
	}
}

func metadataFor(ctx context.Context, in map[string]any) datatypes.JSONMap {
	out := datatypes.JSONMap{}
	for key, value := range in {
		if key != "" {
			out[key] = value
		}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		out["request_id"] = requestID
	}
	return out
}

// List pages through audit rows newest first.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := decodePageToken(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Scope:      req.Scope,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, encodePageToken)

	resp := auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: make([]auditdomain.AuditLog, 0, len(items))}
	for _, item := range items {
		if item != nil {
			resp.AuditLogs = append(resp.AuditLogs, *item)
		}
	}
	return resp, nil
}

func decodePageToken(token string) (*auditdomain.Cursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
	if err != nil || id == 0 {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.Cursor{ID: id, CreatedAt: createdAt.UTC()}, nil
}

// encodePageToken returns "" when the cursor cannot be encoded, which ends
// paging rather than failing the whole list.
func encodePageToken(item *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.Cursor{
		ID:        item.ID.String(),
		CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return ""
	}
	return token
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
