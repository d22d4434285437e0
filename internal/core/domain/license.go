// Package domain contains the core business entities for the lumina license server.
package domain

import (
	"time"
)

// LicenseStatus values commonly stored in License.Status. Status is free-form;
// only StatusActive has behavioral meaning during verification.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
	StatusRevoked   = "revoked"
)

// License represents an issued software license and its activation ledger.
type License struct {
	Key            string             `json:"key"`
	Product        string             `json:"product"`
	Version        string             `json:"version"`
	Customer       string             `json:"customer"`
	Email          string             `json:"email,omitempty"`
	MaxActivations int                `json:"max_activations"`
	MachineBinding bool               `json:"machine_binding"`
	IPWhitelist    []string           `json:"ip_whitelist"`
	ExpiryDate     *time.Time         `json:"expiry_date,omitempty"`
	Status         string             `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Activations    []ActivationRecord `json:"activations"`
}

// ActivationRecord binds a license to one device identity or IP address,
// consuming one activation slot.
type ActivationRecord struct {
	ID                string     `json:"id"`
	MachineCode       string     `json:"machine_code,omitempty"`
	IP                string     `json:"ip,omitempty"`
	ActivatedAt       time.Time  `json:"activated_at"`
	LastVerified      *time.Time `json:"last_verified,omitempty"`
	VerificationCount int        `json:"verification_count"`
}

// LicenseUpdate carries a partial update of a license. Nil fields are left
// untouched by the store.
type LicenseUpdate struct {
	Product        *string    `json:"product,omitempty"`
	Version        *string    `json:"version,omitempty"`
	Customer       *string    `json:"customer,omitempty"`
	Email          *string    `json:"email,omitempty"`
	MaxActivations *int       `json:"max_activations,omitempty"`
	MachineBinding *bool      `json:"machine_binding,omitempty"`
	IPWhitelist    []string   `json:"ip_whitelist,omitempty"`
	ExpiryDate     *time.Time `json:"expiry_date,omitempty"`
	Status         *string    `json:"status,omitempty"`
}

// VerifyRequest is the engine-facing verification request.
type VerifyRequest struct {
	LicenseKey  string `json:"license_key" validate:"required"`
	MachineCode string `json:"machine_code,omitempty"`
	IP          string `json:"ip,omitempty"`
}

// VerifyResult is the outcome of a verification call. Every policy rejection
// is folded into Valid=false with a human-readable Message; only backend
// failures surface as errors.
type VerifyResult struct {
	Valid                bool       `json:"valid"`
	Message              string     `json:"message"`
	License              *License   `json:"license,omitempty"`
	RemainingActivations *int       `json:"remaining_activations,omitempty"`
	ExpiryDate           *time.Time `json:"expiry_date,omitempty"`
}

// Expired reports whether the license expiry has passed at the given instant.
// Comparison happens in UTC; a license without an expiry never expires.
func (l *License) Expired(now time.Time) bool {
	if l.ExpiryDate == nil {
		return false
	}
	return now.UTC().After(l.ExpiryDate.UTC())
}

// ActivationIdentity computes the identity an activation is matched by:
// the machine code when machine binding is on and a code was supplied,
// otherwise the client IP.
func (l *License) ActivationIdentity(machineCode, ip string) string {
	if l.MachineBinding && machineCode != "" {
		return machineCode
	}
	return ip
}

// FindActivation returns the ledger entry matching the given identity, or nil.
func (l *License) FindActivation(machineCode, ip string) *ActivationRecord {
	useMachine := l.MachineBinding && machineCode != ""
	for i := range l.Activations {
		act := &l.Activations[i]
		if useMachine {
			if act.MachineCode == machineCode {
				return act
			}
		} else if ip != "" && act.IP == ip {
			return act
		}
	}
	return nil
}
