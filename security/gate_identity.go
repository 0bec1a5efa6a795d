package security

import (
	"strings"

	"github.com/pocketbase/pocketbase/core"
)

// GatesCollection holds the auth records of gate devices.
const GatesCollection = "gates"

// IsGate reports whether the request is authenticated as a gate device.
func IsGate(e *core.RequestEvent) bool {
	return e.Auth != nil && e.Auth.Collection().Name == GatesCollection
}

// CallerGateID resolves the gate a request speaks for. A gate device is
// always its own auth record id; only a superuser may act for another gate,
// named by claimed or the X-Gate-ID header. Anyone else has no gate id.
func CallerGateID(e *core.RequestEvent, claimed string) string {
	switch {
	case IsGate(e):
		return e.Auth.Id
	case e.HasSuperuserAuth():
		if claimed = strings.TrimSpace(claimed); claimed != "" {
			return claimed
		}
		return strings.TrimSpace(e.Request.Header.Get(GateIDHeader))
	}
	return ""
}
