package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"ticket-gate/internal/services"
	"ticket-gate/internal/status"
	"ticket-gate/models"
	"ticket-gate/security"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
)

type GateHandler struct {
	gates *services.GateService
}

func NewGateHandler(gates *services.GateService) *GateHandler {
	return &GateHandler{gates: gates}
}

type scanRequest struct {
	Payload string `json:"payload"`
	GateID  string `json:"gate_id"`
}

// Scan - Redeem a payload captured by a remote gate device
func (h *GateHandler) Scan(e *core.RequestEvent) error {
	if !canScan(e) {
		return apis.NewUnauthorizedError("Gate access required", nil)
	}

	var req scanRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	if strings.TrimSpace(req.Payload) == "" {
		return apis.NewBadRequestError("Payload required", nil)
	}

	gateID := security.CallerGateID(e, req.GateID)
	res, err := h.gates.Scan(e.Request.Context(), gateID, e.RealIP(), []byte(strings.TrimSpace(req.Payload)))
	return e.JSON(scanStatusCode(res, err), res)
}

// GetScanAudit - Recent scan decisions, newest first
func (h *GateHandler) GetScanAudit(e *core.RequestEvent) error {
	if !e.HasSuperuserAuth() {
		return apis.NewUnauthorizedError("Superuser access required", nil)
	}

	limit, err := parseLimit(e.Request.URL.Query().Get("limit"))
	if err != nil {
		return apis.NewBadRequestError("Invalid limit", err)
	}

	entries, err := h.gates.RecentScans(e.Request.Context(), limit)
	if err != nil {
		return storeFailure(e, "Failed to read scan audit", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

func canScan(e *core.RequestEvent) bool {
	return e.HasSuperuserAuth() || security.IsGate(e)
}

// scanStatusCode maps a scan answer to HTTP. Denials are ordinary answers;
// only an unconfirmed outcome is a server-side failure.
func scanStatusCode(res *models.ScanResult, err error) int {
	if err != nil || res == nil {
		return http.StatusServiceUnavailable
	}
	if res.Reason == status.ReasonStoreUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultAuditLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, errors.New("limit must be positive")
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	return limit, nil
}
