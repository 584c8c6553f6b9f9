// Package model defines domain entities used by services and repositories.
package model

import (
	"strconv"
	"strings"
)

// Product is an entry of the product registry.
type Product struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// CodeParams describes what a generated activation code grants.
type CodeParams struct {
	ExpirationPeriod   int64 // seconds from generation until the code stops being redeemable
	ActivationDuration int64 // seconds each activation stays valid
	MaxUses            int64 // number of activations the code allows
}

// CodeInfo is the verified content of an activation code.
type CodeInfo struct {
	ProductID          string
	ExpiresAt          int64 // unix seconds
	ActivationDuration int64
	MaxUses            int64
}

// ActivationRecord binds one redemption of a code to the redeeming context.
type ActivationRecord struct {
	UUID           string `json:"uuid"`
	BindingHash    string `json:"binding_hash"`
	ExpirationTime int64  `json:"expiration_time"` // unix seconds
	MaxUses        int64  `json:"max_uses"`
}

// Reason is the internal cause of an activation outcome. It is logged and
// counted but never returned to clients.
type Reason string

// Outcome reasons.
const (
	ReasonNone              Reason = ""
	ReasonLockContended     Reason = "lock_contended"
	ReasonVerification      Reason = "verification_failed"
	ReasonExhausted         Reason = "exhausted"
	ReasonNotActivated      Reason = "not_activated"
	ReasonRecordMissing     Reason = "record_missing"
	ReasonBindingMismatch   Reason = "binding_mismatch"
	ReasonActivationExpired Reason = "activation_expired"
)

// Outcome is the result of Activate/Reactivate including the internal reason.
type Outcome struct {
	Valid        bool
	ActivationID string
	Remaining    int64
	Reason       Reason
}

// Failure returns a failed outcome tagged with reason.
func Failure(reason Reason) Outcome { return Outcome{Reason: reason} }

// Public erases everything a client must not learn about a failure.
func (o Outcome) Public() Result {
	if !o.Valid {
		return Result{}
	}
	return Result{Valid: true, ActivationID: o.ActivationID, Remaining: o.Remaining}
}

// Result is the client-visible projection of an Outcome.
type Result struct {
	Valid        bool
	ActivationID string
	Remaining    int64
}

// Tuple serializes the result as "valid:activationID:remaining".
func (r Result) Tuple() string {
	return strconv.FormatBool(r.Valid) + ":" + r.ActivationID + ":" + strconv.FormatInt(r.Remaining, 10)
}

// ParseResult is the inverse of Result.Tuple.
func ParseResult(s string) (Result, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Result{}, false
	}
	valid, err := strconv.ParseBool(parts[0])
	if err != nil {
		return Result{}, false
	}
	rem, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Result{}, false
	}
	return Result{Valid: valid, ActivationID: parts[1], Remaining: rem}, true
}
