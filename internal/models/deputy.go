package models

import (
	"fmt"
	"time"
)

// ProfessionNotProvided is stored when upstream has no profession for a deputy.
const ProfessionNotProvided = "Non renseignée"

// RawRecord is a decoded upstream JSON object of unknown shape.
type RawRecord = map[string]any

// DeputyRecord is the canonical identity of a deputy
type DeputyRecord struct {
	ID                 string `json:"id"`
	GivenName          string `json:"given_name"`
	FamilyName         string `json:"family_name"`
	Profession         string `json:"profession"`
	PoliticalGroupName string `json:"political_group_name,omitempty"`
	PoliticalGroupID   string `json:"political_group_id,omitempty"`
}

// Placeholder returns the record served while id is being fetched.
func Placeholder(id string) DeputyRecord {
	return DeputyRecord{
		ID:         id,
		Profession: ProfessionNotProvided,
	}
}

// IsResolved reports whether both name fields are known.
func (d DeputyRecord) IsResolved() bool {
	return d.GivenName != "" && d.FamilyName != ""
}

// FullName joins given and family names.
func (d DeputyRecord) FullName() string {
	if !d.IsResolved() {
		return ""
	}
	return d.GivenName + " " + d.FamilyName
}

// Validate ensures a record can be written to a persistent store
func (d DeputyRecord) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("deputy id is required")
	}
	if !d.IsResolved() {
		return fmt.Errorf("deputy %s: given and family names are required", d.ID)
	}
	return nil
}

// ResolutionState tracks where a cache entry is in the fetch lifecycle
type ResolutionState string

const (
	StateQueued   ResolutionState = "queued"
	StateLoading  ResolutionState = "loading"
	StateResolved ResolutionState = "resolved"
	StateFailed   ResolutionState = "failed"
)

// FailureKind distinguishes why an entry ended up failed.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureTransient FailureKind = "transient"
	FailureNotFound  FailureKind = "not_found"
	FailureMalformed FailureKind = "malformed"
)

// CacheEntry wraps a record with its resolution state.
type CacheEntry struct {
	Record        DeputyRecord    `json:"record"`
	State         ResolutionState `json:"state"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitzero"`
	Attempts      int             `json:"attempts,omitempty"`
	Failure       FailureKind     `json:"failure,omitempty"`
}
