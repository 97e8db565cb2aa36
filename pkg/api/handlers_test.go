package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainguard/core/pkg/api"
	"github.com/chainguard/core/pkg/authctx"
	"github.com/chainguard/core/pkg/chainadapters"
	"github.com/chainguard/core/pkg/config"
	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/dispatcher"
)

const owner = contracts.Principal("owner-1")

func newTestHandler(t *testing.T) (*api.Handler, *dispatcher.Dispatcher) {
	t.Helper()
	fake := chainadapters.NewFake()
	d := dispatcher.New(fake, fake)
	require.NoError(t, d.Initialize(owner, config.InitConfig{}))
	return api.NewHandler(d), d
}

func withPrincipal(req *http.Request, p contracts.Principal) *http.Request {
	return req.WithContext(authctx.WithPrincipal(req.Context(), p))
}

func TestHandleRequestAction_Denied_MissingPermission(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(map[string]any{
		"type": "transfer", "chain": "ethereum", "token": "USDC", "to": "0xabc", "qty": 100,
	})
	req := httptest.NewRequest("POST", "/api/v1/actions", bytes.NewReader(body))
	req = withPrincipal(req, contracts.Principal("nobody"))
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "denied", resp["status"])
}

func TestHandleRequestAction_Unauthenticated(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(map[string]any{"type": "transfer", "chain": "ethereum", "qty": 1})
	req := httptest.NewRequest("POST", "/api/v1/actions", bytes.NewReader(body))
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleRequestAction_Executed(t *testing.T) {
	h, d := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	require.NoError(t, d.AssignRole(owner, owner, contracts.RoleOperator))
	_, err := d.AddPolicy(owner, contracts.Policy{
		Name:       "allow-all",
		Conditions: []contracts.Condition{contracts.MaxAmount(1_000_000)},
		Action:     contracts.Allow{},
		Priority:   1,
	})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"type": "transfer", "chain": "ethereum", "token": "USDC", "to": "0xabc", "qty": 100,
	})
	req := httptest.NewRequest("POST", "/api/v1/actions", bytes.NewReader(body))
	req = withPrincipal(req, owner)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "executed", resp["status"])
}

func TestHandlePauseThenPausedReportsTrue(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("POST", "/api/v1/pause", nil)
	req = withPrincipal(req, owner)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	req2 := httptest.NewRequest("GET", "/api/v1/paused", nil)
	w2 := httptest.NewRecorder()
	mux.ServeHTTP(w2, req2)
	require.Equal(t, http.StatusOK, w2.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp))
	require.True(t, resp["paused"])
}

func TestHandleAddPolicy_RequiresConfigurePermission(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(map[string]any{
		"name":     "cap",
		"priority": 1,
		"conditions": []map[string]any{
			{"type": "max_amount", "value": 1000},
		},
		"action": map[string]any{"type": "allow"},
	})
	req := httptest.NewRequest("POST", "/api/v1/policies", bytes.NewReader(body))
	req = withPrincipal(req, contracts.Principal("nobody"))
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleAddPolicy_Owner(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	body, _ := json.Marshal(map[string]any{
		"name":     "cap",
		"priority": 1,
		"conditions": []map[string]any{
			{"type": "max_amount", "value": 1000},
		},
		"action": map[string]any{"type": "allow"},
	})
	req := httptest.NewRequest("POST", "/api/v1/policies", bytes.NewReader(body))
	req = withPrincipal(req, owner)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
}
