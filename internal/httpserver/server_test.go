package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pilotdesk/governance/internal/audit"
	"github.com/pilotdesk/governance/internal/auth"
	"github.com/pilotdesk/governance/internal/config"
	"github.com/pilotdesk/governance/internal/ledger"
	"github.com/pilotdesk/governance/internal/models"
	"github.com/pilotdesk/governance/internal/policy"
	"github.com/pilotdesk/governance/internal/registry"
	"github.com/pilotdesk/governance/internal/risk"
	"github.com/pilotdesk/governance/internal/service"
)

const debugToken = "test-debug-token"

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	store := registry.NewMemoryStore()
	svc := service.New(
		store,
		policy.NewMemoryStore(),
		ledger.NewMemoryLedger(),
		risk.NewClassifier(),
		audit.NewMemorySink(),
		service.Config{},
	)
	verifier, err := auth.NewVerifier(nil, debugToken)
	require.NoError(t, err)
	return New(config.Config{}, svc, store, verifier).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	r := httptest.NewRequest(method, path, reader)
	r.Header.Set("X-Debug-Token", debugToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func decodeProposal(t *testing.T, rec *httptest.ResponseRecorder) models.Proposal {
	t.Helper()
	var p models.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutesRequireAuth(t *testing.T) {
	h := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/governance/proposals", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAndGetProposal(t *testing.T) {
	h := newTestServer(t)
	ws := uuid.New()

	rec := doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": ws.String(),
		"agentType":   "ads",
		"actionType":  "pause_ad_campaign",
		"payload":     map[string]interface{}{"campaignId": "c-1"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeProposal(t, rec)
	require.Equal(t, models.StatusPending, created.Status)
	require.Equal(t, models.RiskTierHigh, created.RiskTier)

	rec = doJSON(t, h, http.MethodGet, "/governance/proposals/"+created.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeProposal(t, rec)
	require.Equal(t, created.ID, got.ID)
}

func TestSubmitValidationErrors(t *testing.T) {
	h := newTestServer(t)

	// Malformed workspace ID reads as an unknown workspace.
	rec := doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": "not-a-uuid", "agentType": "a", "actionType": "b",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": uuid.New().String(), "agentType": "", "actionType": "b",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": uuid.New().String(), "agentType": "a", "actionType": "b",
		"estimatedCostCents": -5,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProposalsFilters(t *testing.T) {
	h := newTestServer(t)
	ws := uuid.New()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
			"workspaceId": ws.String(), "agentType": "ads", "actionType": "pause_ad_campaign",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/governance/proposals?workspaceId="+ws.String()+"&status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.Proposal
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)

	rec = doJSON(t, h, http.MethodGet, "/governance/proposals?workspaceId="+uuid.New().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/governance/proposals?workspaceId=zzz", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecideFlow(t *testing.T) {
	h := newTestServer(t)
	ws := uuid.New()

	rec := doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": ws.String(), "agentType": "ads", "actionType": "pause_ad_campaign",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeProposal(t, rec)

	// No reviewerId in the body: identity comes from the auth principal.
	rec = doJSON(t, h, http.MethodPost, "/governance/proposals/"+p.ID.String()+"/decision", map[string]interface{}{
		"outcome": "approved",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decided := decodeProposal(t, rec)
	require.Equal(t, models.StatusApproved, decided.Status)

	// Conflicting outcome afterwards.
	rec = doJSON(t, h, http.MethodPost, "/governance/proposals/"+p.ID.String()+"/decision", map[string]interface{}{
		"outcome": "rejected", "reason": "nope",
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	// Audit trail reflects both transitions.
	rec = doJSON(t, h, http.MethodGet, "/governance/proposals/"+p.ID.String()+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []audit.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	require.Equal(t, "user:debug", entries[1].Actor)
}

func TestDecideErrorMapping(t *testing.T) {
	h := newTestServer(t)
	ws := uuid.New()

	rec := doJSON(t, h, http.MethodPost, "/governance/proposals/"+uuid.New().String()+"/decision", map[string]interface{}{
		"outcome": "approved",
	})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/governance/proposals/zzz/decision", map[string]interface{}{
		"outcome": "approved",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	created := doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": ws.String(), "agentType": "ads", "actionType": "pause_ad_campaign",
	})
	p := decodeProposal(t, created)

	rec = doJSON(t, h, http.MethodPost, "/governance/proposals/"+p.ID.String()+"/decision", map[string]interface{}{
		"outcome": "maybe",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Rejection without a reason.
	rec = doJSON(t, h, http.MethodPost, "/governance/proposals/"+p.ID.String()+"/decision", map[string]interface{}{
		"outcome": "rejected",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBundleComponentsEndpoint(t *testing.T) {
	h := newTestServer(t)
	ws := uuid.New()

	rec := doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": ws.String(), "agentType": "content", "actionType": "publish_blog_post",
		"components": []string{"post-1", "post-2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decodeProposal(t, rec)

	rec = doJSON(t, h, http.MethodPost, "/governance/proposals/"+p.ID.String()+"/decision", map[string]interface{}{
		"outcome": "partially_approved",
		"componentDecisions": map[string]string{
			"post-1": "approved",
			"post-2": "rejected",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decided := decodeProposal(t, rec)
	require.Equal(t, models.StatusPartiallyApproved, decided.Status)

	rec = doJSON(t, h, http.MethodGet, "/governance/proposals/"+p.ID.String()+"/components", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var components []models.ComponentDecision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &components))
	require.Len(t, components, 2)
}

func TestExpireEndpoint(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/governance/expire", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"expired":0}`, rec.Body.String())
}

func TestPolicyEndpoints(t *testing.T) {
	h := newTestServer(t)
	ws := uuid.New()

	rec := doJSON(t, h, http.MethodGet, "/governance/workspaces/"+ws.String()+"/policy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pol models.AutopilotPolicy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pol))
	require.Equal(t, models.DefaultMaxActionsPerWeek, pol.MaxActionsPerWeek)

	rec = doJSON(t, h, http.MethodPut, "/governance/workspaces/"+ws.String()+"/policy", map[string]interface{}{
		"allowedActionTypes":  []string{"seo_fix"},
		"maxActionsPerWeek":   3,
		"maxDailyBudgetCents": 5000,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pol))
	require.Equal(t, []string{"seo_fix"}, pol.AllowedActionTypes)
	require.Equal(t, 3, pol.MaxActionsPerWeek)

	// Critical action types are refused.
	rec = doJSON(t, h, http.MethodPut, "/governance/workspaces/"+ws.String()+"/policy", map[string]interface{}{
		"allowedActionTypes": []string{"delete_content"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/governance/workspaces/zzz/policy", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutopilotSubmitThroughHTTP(t *testing.T) {
	h := newTestServer(t)
	ws := uuid.New()

	rec := doJSON(t, h, http.MethodPut, "/governance/workspaces/"+ws.String()+"/policy", map[string]interface{}{
		"allowedActionTypes":  []string{"seo_fix"},
		"maxActionsPerWeek":   1,
		"maxDailyBudgetCents": 1000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": ws.String(), "agentType": "seo", "actionType": "seo_fix",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeProposal(t, rec)
	require.Equal(t, models.StatusAutoApproved, first.Status)

	// Weekly cap reached: still 201, but pending. Autopilot declines are
	// never HTTP errors.
	rec = doJSON(t, h, http.MethodPost, "/governance/proposals", map[string]interface{}{
		"workspaceId": ws.String(), "agentType": "seo", "actionType": "seo_fix",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decodeProposal(t, rec)
	require.Equal(t, models.StatusPending, second.Status)
}
