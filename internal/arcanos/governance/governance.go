// Package governance enforces the trust policy around privileged actions and
// composes it with idempotency and audit into the execution pipeline.
package governance

import (
	"fmt"

	"github.com/arcanos/arcanos/internal/arcanos/trust"
)

// Denial is the error returned when the governance gate refuses an action.
// A denial is final for the call site; retrying requires a fresh trust
// computation.
type Denial struct {
	Action string
	Trust  trust.State
	Reason string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("governance denied %q: %s", d.Action, d.Reason)
}

// DuplicateError is returned when the idempotency guard rejects a command
// fingerprint already seen within the dedup window.
type DuplicateError struct {
	Action      string
	Fingerprint string
}

func (d *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %q rejected (fingerprint %.12s)", d.Action, d.Fingerprint)
}

// AssertAllowed applies the governance rule: an action that requires
// confirmation is only allowed at full trust.
func AssertAllowed(action string, state trust.State, requiresConfirmation bool) *Denial {
	if requiresConfirmation && state != trust.Full {
		return &Denial{
			Action: action,
			Trust:  state,
			Reason: fmt.Sprintf("confirmation-required action at trust %s", state),
		}
	}
	return nil
}
