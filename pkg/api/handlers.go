package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/chainguard/core/pkg/authctx"
	"github.com/chainguard/core/pkg/contracts"
	"github.com/chainguard/core/pkg/coreerr"
	"github.com/chainguard/core/pkg/dispatcher"
)

// maxBodyBytes bounds every request body this surface accepts.
const maxBodyBytes = 1 << 20

// Handler exposes ChainGuard's client-facing surface over HTTP: a thin
// net/http.ServeMux registrar, JSON in and out, RFC 7807 errors via
// apierror.go's helpers, and the caller principal read from the request
// context the auth middleware populated.
type Handler struct {
	core *dispatcher.Dispatcher
}

func NewHandler(core *dispatcher.Dispatcher) *Handler {
	return &Handler{core: core}
}

// RegisterRoutes registers ChainGuard's routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/actions", h.handleRequestAction)

	mux.HandleFunc("GET /api/v1/proposals", h.handleListProposals)
	mux.HandleFunc("POST /api/v1/proposals/{id}/sign", h.handleSignProposal)
	mux.HandleFunc("POST /api/v1/proposals/{id}/reject", h.handleRejectProposal)

	mux.HandleFunc("GET /api/v1/audit", h.handleListAudit)
	mux.HandleFunc("GET /api/v1/audit/{id}", h.handleGetAuditEntry)

	mux.HandleFunc("POST /api/v1/roles", h.handleAssignRole)
	mux.HandleFunc("DELETE /api/v1/roles", h.handleRevokeRole)
	mux.HandleFunc("GET /api/v1/roles", h.handleListRoles)
	mux.HandleFunc("GET /api/v1/roles/{principal}", h.handleGetRoles)

	mux.HandleFunc("POST /api/v1/policies", h.handleAddPolicy)
	mux.HandleFunc("PUT /api/v1/policies/{id}", h.handleUpdatePolicy)
	mux.HandleFunc("DELETE /api/v1/policies/{id}", h.handleRemovePolicy)
	mux.HandleFunc("GET /api/v1/policies", h.handleListPolicies)

	mux.HandleFunc("POST /api/v1/pause", h.handlePause)
	mux.HandleFunc("POST /api/v1/resume", h.handleResume)
	mux.HandleFunc("GET /api/v1/paused", h.handlePaused)
	mux.HandleFunc("GET /api/v1/config", h.handleGetConfig)
}

func callerOf(r *http.Request) (contracts.Principal, error) {
	return authctx.GetPrincipal(r.Context())
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "request body too large or unreadable")
		return nil, false
	}
	return raw, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeCoreError maps the sentinel errors pkg/coreerr defines onto the
// RFC 7807 response they correspond to. Anything else is an unexpected
// infrastructure failure (500), never leaked to the client.
func writeCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coreerr.ErrUnauthorized):
		WriteForbidden(w, "caller lacks the required permission")
	case errors.Is(err, coreerr.ErrNotFound):
		WriteNotFound(w, "resource not found")
	case errors.Is(err, coreerr.ErrIllegalTransition):
		WriteConflict(w, err.Error())
	case errors.Is(err, coreerr.ErrExpired):
		WriteConflict(w, "proposal has expired")
	case errors.Is(err, coreerr.ErrPaused):
		WriteError(w, http.StatusServiceUnavailable, "Service Unavailable", "system is paused")
	case errors.Is(err, coreerr.ErrConfig):
		WriteBadRequest(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}

func parseIDPathValue(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "invalid id path parameter")
		return 0, false
	}
	return id, true
}

// --- request_action ---

func (h *Handler) handleRequestAction(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	action, err := decodeAction(raw)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.core.RequestAction(r.Context(), caller, action)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewActionResult(result))
}

// --- proposals ---

func (h *Handler) handleListProposals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.GetPendingRequests())
}

func (h *Handler) handleSignProposal(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	id, ok := parseIDPathValue(w, r)
	if !ok {
		return
	}

	p, err := h.core.SignRequest(r.Context(), caller, id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type rejectRequestDTO struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleRejectProposal(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	id, ok := parseIDPathValue(w, r)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var dto rejectRequestDTO
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &dto); err != nil {
			WriteBadRequest(w, "invalid request body")
			return
		}
	}

	if err := h.core.RejectRequest(caller, id, dto.Reason); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- audit ---

func parseOptionalUint64Query(r *http.Request, name string) (*uint64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (h *Handler) handleListAudit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	start, err := parseOptionalUint64Query(r, "start")
	if err != nil {
		WriteBadRequest(w, "invalid start query parameter")
		return
	}
	end, err := parseOptionalUint64Query(r, "end")
	if err != nil {
		WriteBadRequest(w, "invalid end query parameter")
		return
	}

	entries, err := h.core.GetAuditLogs(caller, start, end)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleGetAuditEntry(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	id, ok := parseIDPathValue(w, r)
	if !ok {
		return
	}

	entry, err := h.core.GetAuditEntry(caller, id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// --- role administration ---

type roleAssignmentDTO struct {
	Principal contracts.Principal `json:"principal"`
	Role      contracts.Role      `json:"role"`
}

func (h *Handler) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var dto roleAssignmentDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.core.AssignRole(caller, dto.Principal, dto.Role); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var dto roleAssignmentDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.core.RevokeRole(caller, dto.Principal, dto.Role); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetRoles(w http.ResponseWriter, r *http.Request) {
	target := contracts.Principal(r.PathValue("principal"))
	writeJSON(w, http.StatusOK, h.core.GetRoles(target))
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.ListRoleAssignments())
}

// --- policy administration ---

func (h *Handler) handleAddPolicy(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	p, err := parsePolicyBody(raw)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	id, err := h.core.AddPolicy(caller, p)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (h *Handler) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	id, ok := parseIDPathValue(w, r)
	if !ok {
		return
	}
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	p, err := parsePolicyBody(raw)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	if err := h.core.UpdatePolicy(caller, id, p); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemovePolicy(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	id, ok := parseIDPathValue(w, r)
	if !ok {
		return
	}

	if err := h.core.RemovePolicy(caller, id); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.ListPolicies())
}

// --- emergency pause ---

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	if err := h.core.Pause(caller); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	caller, err := callerOf(r)
	if err != nil {
		WriteUnauthorized(w, "")
		return
	}
	if err := h.core.Resume(caller); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePaused(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"paused": h.core.IsPaused()})
}

func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.GetConfig())
}
