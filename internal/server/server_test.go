package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/edupoints/internal/audit/domain"
	auditrepository "github.com/smallbiznis/edupoints/internal/audit/repository"
	auditservice "github.com/smallbiznis/edupoints/internal/audit/service"
	"github.com/smallbiznis/edupoints/internal/authorization"
	"github.com/smallbiznis/edupoints/internal/clock"
	"github.com/smallbiznis/edupoints/internal/config"
	"github.com/smallbiznis/edupoints/internal/observability"
	quotadomain "github.com/smallbiznis/edupoints/internal/quota/domain"
	"github.com/smallbiznis/edupoints/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testAdminToken = "s3cret"

var dsnReplacer = strings.NewReplacer("/", "_", " ", "_")

type mockQuotaService struct {
	mock.Mock
}

func (m *mockQuotaService) Deduct(ctx context.Context, event quotadomain.UsageEvent) (*quotadomain.DeductionResult, error) {
	args := m.Called(ctx, event)
	result, _ := args.Get(0).(*quotadomain.DeductionResult)
	return result, args.Error(1)
}

func (m *mockQuotaService) CheckAdmission(ctx context.Context, event quotadomain.UsageEvent) (quotadomain.Decision, error) {
	args := m.Called(ctx, event)
	return args.Get(0).(quotadomain.Decision), args.Error(1)
}

func (m *mockQuotaService) GetBalance(ctx context.Context, scope quotadomain.ScopeRef) (quotadomain.BalanceView, error) {
	args := m.Called(ctx, scope)
	return args.Get(0).(quotadomain.BalanceView), args.Error(1)
}

func (m *mockQuotaService) ListLedger(ctx context.Context, req quotadomain.ListLedgerRequest) (quotadomain.ListLedgerResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(quotadomain.ListLedgerResponse), args.Error(1)
}

func (m *mockQuotaService) TopUp(ctx context.Context, req quotadomain.TopUpRequest) (*quotadomain.LedgerEntry, error) {
	args := m.Called(ctx, req)
	entry, _ := args.Get(0).(*quotadomain.LedgerEntry)
	return entry, args.Error(1)
}

func (m *mockQuotaService) Reverse(ctx context.Context, req quotadomain.ReverseRequest) (*quotadomain.LedgerEntry, error) {
	args := m.Called(ctx, req)
	entry, _ := args.Get(0).(*quotadomain.LedgerEntry)
	return entry, args.Error(1)
}

func (m *mockQuotaService) Provision(ctx context.Context, req quotadomain.ProvisionRequest) (quotadomain.BalanceView, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(quotadomain.BalanceView), args.Error(1)
}

func newTestServer(t *testing.T) (*Server, *mockQuotaService, authorization.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+dsnReplacer.Replace(t.Name())+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		Repo:  auditrepository.Provide(),
	})

	quotaSvc := &mockQuotaService{}
	srv := NewServer(ServerParams{
		Gin:      NewEngine(observability.Config{}, nil),
		Cfg:      config.Config{Environment: "test", AdminToken: testAdminToken},
		QuotaSvc: quotaSvc,
		AuthzSvc: authz,
		AuditSvc: auditSvc,
	})
	return srv, quotaSvc, authz
}

func doJSON(t *testing.T, srv *Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestDeductReturnsResult(t *testing.T) {
	srv, quotaSvc, _ := newTestServer(t)

	quotaSvc.On("Deduct", mock.Anything, mock.MatchedBy(func(e quotadomain.UsageEvent) bool {
		return e.ActorID == 11 && e.Unit == quotadomain.UnitSeconds && e.RawAmount.Equal(decimal.NewFromInt(50))
	})).Return(&quotadomain.DeductionResult{
		LedgerEntryID: "99",
		Scope:         quotadomain.Individual(11),
		PointsCharged: 50,
		BalanceAfter:  50,
		Remaining:     50,
		Outcome:       quotadomain.OutcomeAllow,
	}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/deductions", map[string]any{
		"actor_id":   "11",
		"kind":       "speech_assessment",
		"raw_amount": 50,
		"unit":       "seconds",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data quotadomain.DeductionResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 50, resp.Data.PointsCharged)
	assert.Equal(t, "99", resp.Data.LedgerEntryID)
	quotaSvc.AssertExpectations(t)
}

func TestDeductErrorStatuses(t *testing.T) {
	scope := quotadomain.Organization(900)
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"hard limit", &quotadomain.DeductionError{Err: quotadomain.ErrHardLimitExceeded, Scope: scope, Charge: 100}, http.StatusPaymentRequired, "hard_limit_exceeded"},
		{"inactive", &quotadomain.DeductionError{Err: quotadomain.ErrScopeInactive, Scope: scope, Charge: 5}, http.StatusForbidden, "scope_inactive"},
		{"not found", &quotadomain.DeductionError{Err: quotadomain.ErrScopeNotFound, Scope: scope}, http.StatusNotFound, "scope_not_found"},
		{"persistence", &quotadomain.DeductionError{Err: &quotadomain.PersistenceError{Op: "transaction", Err: assert.AnError}, Scope: scope}, http.StatusServiceUnavailable, "service_unavailable"},
		{"unsupported unit", &quotadomain.DeductionError{Err: quotadomain.ErrUnsupportedUnit}, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, quotaSvc, _ := newTestServer(t)
			quotaSvc.On("Deduct", mock.Anything, mock.Anything).Return(nil, tt.err)

			rec := doJSON(t, srv, http.MethodPost, "/api/v1/deductions", map[string]any{
				"actor_id":   "11",
				"raw_amount": "100",
				"unit":       "seconds",
			}, nil)
			assert.Equal(t, tt.status, rec.Code)
			payload := decodeError(t, rec)
			assert.Equal(t, tt.typ, payload.Type)
		})
	}
}

func TestDeductRejectionCarriesScope(t *testing.T) {
	srv, quotaSvc, _ := newTestServer(t)
	quotaSvc.On("Deduct", mock.Anything, mock.Anything).Return(nil, &quotadomain.DeductionError{
		Err:    quotadomain.ErrHardLimitExceeded,
		Scope:  quotadomain.Organization(900),
		Charge: 100,
	})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/deductions", map[string]any{
		"actor_id": "11", "raw_amount": 100, "unit": "seconds",
	}, nil)
	payload := decodeError(t, rec)
	require.NotNil(t, payload.Scope)
	assert.Equal(t, quotadomain.Organization(900), *payload.Scope)
	require.NotNil(t, payload.Charge)
	assert.EqualValues(t, 100, *payload.Charge)
}

func TestDeductValidatesBeforeService(t *testing.T) {
	srv, quotaSvc, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/deductions", map[string]any{
		"raw_amount": 1, "unit": "seconds",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_actor", payload.Errors[0].Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/deductions", map[string]any{
		"actor_id": "11", "kind": "reversal", "raw_amount": 1, "unit": "seconds",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	quotaSvc.AssertNotCalled(t, "Deduct", mock.Anything, mock.Anything)
}

func TestCheckAdmission(t *testing.T) {
	srv, quotaSvc, _ := newTestServer(t)
	quotaSvc.On("CheckAdmission", mock.Anything, mock.Anything).Return(quotadomain.Decision{
		Outcome: quotadomain.OutcomeReject,
		Reason:  quotadomain.ReasonScopeNotFound,
		Charge:  5,
	}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/admissions", map[string]any{
		"actor_id": "11", "raw_amount": 5, "unit": "seconds",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"scope_not_found"`)
}

func TestScopeRoutes(t *testing.T) {
	srv, quotaSvc, _ := newTestServer(t)
	scope := quotadomain.Individual(11)

	quotaSvc.On("GetBalance", mock.Anything, scope).Return(quotadomain.BalanceView{
		Scope: scope, Capacity: 100, Consumed: 40, Remaining: 60, Active: true,
	}, nil)
	quotaSvc.On("ListLedger", mock.Anything, quotadomain.ListLedgerRequest{
		Scope: scope, Kind: "reversal", PageToken: "abc", PageSize: 5,
	}).Return(quotadomain.ListLedgerResponse{PageInfo: pagination.PageInfo{HasMore: true, NextPageToken: "next"}}, nil)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/scopes/individual/11/balance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"remaining":60`)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/scopes/individual/11/ledger?kind=reversal&page_token=abc&page_size=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"next_page_token":"next"`)

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/scopes/school/11/balance", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	quotaSvc.AssertExpectations(t)
}

func TestAdminRoutesRequireAuthorization(t *testing.T) {
	srv, quotaSvc, authz := newTestServer(t)
	scope := quotadomain.Organization(900)
	body := map[string]any{"points": 100, "note": "bonus"}

	rec := doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/organization/900/top-up", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/organization/900/top-up", body, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/organization/900/top-up", body, map[string]string{HeaderActorID: "7"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	require.NoError(t, authz.AssignRole(context.Background(), "user:7", authorization.RoleOrgAdmin, scope.String()))
	quotaSvc.On("TopUp", mock.Anything, quotadomain.TopUpRequest{Scope: scope, ActorID: "7", Points: 100, Note: "bonus"}).
		Return(&quotadomain.LedgerEntry{ID: 1, Kind: quotadomain.UsageKindAdminAdjustment, CapacityAfter: 1100}, nil)

	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/organization/900/top-up", body, map[string]string{HeaderActorID: "7"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/organization/901/top-up", body, map[string]string{HeaderActorID: "7"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/organization/900", map[string]any{"capacity": 10}, map[string]string{HeaderActorID: "7"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	quotaSvc.AssertExpectations(t)
}

func TestAdminSystemToken(t *testing.T) {
	srv, quotaSvc, _ := newTestServer(t)
	headers := map[string]string{"Authorization": "Bearer " + testAdminToken, HeaderActorID: "5"}

	quotaSvc.On("Provision", mock.Anything, mock.MatchedBy(func(req quotadomain.ProvisionRequest) bool {
		return req.Scope == quotadomain.Individual(11) && req.Capacity == 300 && req.ActorID == "5" && req.PeriodEnd != nil &&
			req.PeriodEnd.Format("2006-01-02T15:04:05") == "2026-06-30T23:59:59"
	})).Return(quotadomain.BalanceView{Scope: quotadomain.Individual(11), Capacity: 300, Active: true}, nil)

	rec := doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/individual/11", map[string]any{
		"capacity": 300, "period_end": "2026-06-30",
	}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	quotaSvc.On("Provision", mock.Anything, mock.MatchedBy(func(req quotadomain.ProvisionRequest) bool {
		return req.Scope == quotadomain.Organization(12)
	})).Return(quotadomain.BalanceView{}, quotadomain.ErrCapacityBelowConsumption)
	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/organization/12", map[string]any{"capacity": 1}, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)

	quotaSvc.On("Reverse", mock.Anything, quotadomain.ReverseRequest{EntryID: "42", ActorID: "5", Note: "refund"}).
		Return(nil, quotadomain.ErrAlreadyReversed)
	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/ledger/42/reverse", map[string]any{"note": "refund"}, headers)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/roles", map[string]any{
		"actor": "user:8", "role": "operator", "domain": authorization.GlobalDomain,
	}, headers)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/admin/v1/roles", map[string]any{
		"actor": "user:8", "role": "root", "domain": authorization.GlobalDomain,
	}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	quotaSvc.AssertExpectations(t)
}

func TestAdminActionsAreAudited(t *testing.T) {
	srv, quotaSvc, _ := newTestServer(t)
	headers := map[string]string{"Authorization": "Bearer " + testAdminToken}
	scope := quotadomain.Individual(11)

	quotaSvc.On("TopUp", mock.Anything, quotadomain.TopUpRequest{Scope: scope, Points: 50}).
		Return(&quotadomain.LedgerEntry{ID: 3, Kind: quotadomain.UsageKindAdminAdjustment, CapacityAfter: 350}, nil)
	rec := doJSON(t, srv, http.MethodPost, "/admin/v1/scopes/individual/11/top-up", map[string]any{"points": 50}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/admin/v1/audit-logs?scope=individual:11", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data     []auditdomain.AuditLog `json:"data"`
		PageInfo pagination.PageInfo    `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, auditdomain.ActionScopeTopUp, resp.Data[0].Action)
	assert.Equal(t, "system", resp.Data[0].ActorType)
	assert.Equal(t, "scope", resp.Data[0].TargetType)
	assert.False(t, resp.PageInfo.HasMore)

	rec = doJSON(t, srv, http.MethodGet, "/admin/v1/audit-logs", nil, map[string]string{HeaderActorID: "7"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/admin/v1/audit-logs?start_at=yesterday", nil, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	quotaSvc.AssertExpectations(t)
}

func TestNoticesUnavailableWithoutHub(t *testing.T) {
	srv, _, _ := newTestServer(t)
	headers := map[string]string{"Authorization": "Bearer " + testAdminToken}

	rec := doJSON(t, srv, http.MethodGet, "/admin/v1/scopes/organization/900/notices", nil, headers)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
