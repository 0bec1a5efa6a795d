package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"ticket-gate/internal/status"
	"ticket-gate/models"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanStatusCode(t *testing.T) {
	now := time.Now()
	cred := &models.TicketCredential{TicketID: "T1", Class: models.ClassRegular}

	tests := []struct {
		name string
		res  *models.ScanResult
		err  error
		want int
	}{
		{"Granted", models.Granted(cred, now), nil, http.StatusOK},
		{"Already used", models.Denied(status.ReasonAlreadyUsed, cred, &now), nil, http.StatusOK},
		{"Forged", models.Denied(status.ReasonInvalidSignature, nil, nil), nil, http.StatusOK},
		{"Store down", models.Denied(status.ReasonStoreUnavailable, cred, nil),
			fmt.Errorf("%w: get", status.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{"Store reason without error", models.Denied(status.ReasonStoreUnavailable, cred, nil), nil, http.StatusServiceUnavailable},
		{"No result", nil, nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, scanStatusCode(tt.res, tt.err))
		})
	}
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"", defaultAuditLimit, false},
		{"10", 10, false},
		{"5000", maxAuditLimit, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		t.Run("limit="+tt.raw, func(t *testing.T) {
			got, err := parseLimit(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandlers_RequireAuth(t *testing.T) {
	tickets := NewTicketHandler(nil)
	gates := NewGateHandler(nil)

	calls := map[string]func(*core.RequestEvent) error{
		"IssueTicket":   tickets.IssueTicket,
		"GetCredential": tickets.GetCredential,
		"CancelTicket":  tickets.CancelTicket,
		"Scan":          gates.Scan,
		"GetScanAudit":  gates.GetScanAudit,
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call(&core.RequestEvent{})

			var apiErr *router.ApiError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		})
	}
}
