// Package model defines the core records tracked by the dealflow pipeline:
// entities (health systems, companies, co-investors), unverified candidates,
// research jobs, and company pipeline phases.
package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Kind identifies which class of pipeline entity a record belongs to.
type Kind string

const (
	KindHealthSystem Kind = "health_system"
	KindCompany      Kind = "company"
	KindCoInvestor   Kind = "co_investor"
)

// Kinds lists all entity kinds in display order.
var Kinds = []Kind{KindHealthSystem, KindCompany, KindCoInvestor}

// Valid reports whether k is a known entity kind.
func (k Kind) Valid() bool {
	switch k {
	case KindHealthSystem, KindCompany, KindCoInvestor:
		return true
	}
	return false
}

// ParseKind converts a string into a Kind, accepting the wire form
// (e.g. "health_system").
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", eris.Errorf("model: unknown entity kind %q", s)
	}
	return k, nil
}

// Entity is a persisted pipeline entity. Identity fields (Name, Website) are
// shared across kinds; classification fields apply only to the kind noted.
type Entity struct {
	ID        string `json:"id" db:"id"`
	Kind      Kind   `json:"kind" db:"kind"`
	Name      string `json:"name" db:"name"`
	LegalName string `json:"legal_name,omitempty" db:"legal_name"`
	Website   string `json:"website,omitempty" db:"website"`
	City      string `json:"city,omitempty" db:"city"`
	State     string `json:"state,omitempty" db:"state"`

	// Company classification
	LeadSource    string `json:"lead_source,omitempty" db:"lead_source"`
	IntakeStatus  string `json:"intake_status,omitempty" db:"intake_status"`
	DeclineReason string `json:"decline_reason,omitempty" db:"decline_reason"`

	// Co-investor classification
	IsAlliance       bool `json:"is_alliance,omitempty" db:"is_alliance"`
	IsLimitedPartner bool `json:"is_limited_partner,omitempty" db:"is_limited_partner"`

	ResearchNotes     string     `json:"research_notes,omitempty" db:"research_notes"`
	ResearchUpdatedAt *time.Time `json:"research_updated_at,omitempty" db:"research_updated_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Candidate is an unverified search result from the candidate source. It
// lives only for the duration of one search-then-verify request and is never
// persisted.
type Candidate struct {
	Name       string  `json:"name"`
	LegalName  string  `json:"legal_name,omitempty"`
	Website    string  `json:"website,omitempty"`
	City       string  `json:"city,omitempty"`
	State      string  `json:"state,omitempty"`
	Summary    string  `json:"summary,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"`
}
