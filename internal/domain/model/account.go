// Package model contains the core domain types shared across layers.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultArtifactName is the artifact filename used when a user record does
// not carry an explicit one.
const DefaultArtifactName = "token_ind.json"

// GuestAccount is one guest credential pair to be exchanged for a token.
type GuestAccount struct {
	UID    string
	Secret string
}

// guestAccountJSON is the wire/disk shape of a GuestAccount. "password" is
// accepted as a legacy alias for "secret" so stores written by older
// deployments keep loading.
type guestAccountJSON struct {
	UID      string `json:"uid"`
	Secret   string `json:"secret,omitempty"`
	Password string `json:"password,omitempty"`
}

// MarshalJSON writes the canonical {"uid","secret"} shape.
func (a GuestAccount) MarshalJSON() ([]byte, error) {
	return json.Marshal(guestAccountJSON{UID: a.UID, Secret: a.Secret})
}

// UnmarshalJSON reads "secret", falling back to the legacy "password" key.
func (a *GuestAccount) UnmarshalJSON(data []byte) error {
	var raw guestAccountJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.UID = raw.UID
	a.Secret = raw.Secret
	if a.Secret == "" {
		a.Secret = raw.Password
	}
	return nil
}

// ValidationError reports a malformed guest account submission. Index
// identifies the offending entry in the submitted list.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("account %d: %s", e.Index, e.Reason)
}

// ValidateAccounts checks that every entry carries a non-empty uid and
// secret. Returns a *ValidationError naming the first offending index.
func ValidateAccounts(accounts []GuestAccount) error {
	if len(accounts) == 0 {
		return &ValidationError{Index: 0, Reason: "account list is empty"}
	}
	for i, acc := range accounts {
		if acc.UID == "" {
			return &ValidationError{Index: i, Reason: "missing uid"}
		}
		if acc.Secret == "" {
			return &ValidationError{Index: i, Reason: "missing secret"}
		}
	}
	return nil
}

// UserRecord is the per-user state held in the credential store. The JSON
// field names mirror the on-disk store format.
type UserRecord struct {
	Accounts        []GuestAccount `json:"guest_accounts,omitempty"`
	Filename        string         `json:"filename,omitempty"`
	LastTokenCount  int            `json:"last_tokens_count"`
	LastResultPath  string         `json:"last_local_path,omitempty"`
	LastGeneratedAt *time.Time     `json:"last_generated_at,omitempty"`
}

// Configured reports whether the user has any guest accounts and is
// therefore eligible for batch generation and scheduled processing.
func (u UserRecord) Configured() bool {
	return len(u.Accounts) > 0
}

// ArtifactName returns the artifact filename for this user, applying the
// default when none was configured.
func (u UserRecord) ArtifactName() string {
	if u.Filename != "" {
		return u.Filename
	}
	return DefaultArtifactName
}

// TokenResult is one successfully exchanged token. The input secret is never
// carried into the result.
type TokenResult struct {
	UID   string `json:"uid"`
	Token string `json:"token"`
}

// BatchResult summarizes one completed batch run for a user.
type BatchResult struct {
	Count        int
	ArtifactPath string
	Tokens       []TokenResult
}
