package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RuleType identifies the matching strategy a rule dispatches to.
type RuleType string

const (
	RuleTypeTitleSimilarity RuleType = "title_similarity" // Fuzzy title comparison
	RuleTypeIdentifierExact RuleType = "identifier_exact" // Exact identifier equality
	RuleTypeIdentifierFuzzy RuleType = "identifier_fuzzy" // Jaro-Winkler on stripped identifiers
	RuleTypeDateCreator     RuleType = "date_creator"     // Date-range overlap + creator name
	RuleTypeChecksum        RuleType = "checksum"         // Attached-file digest equality
	RuleTypeCombined        RuleType = "combined"         // Weighted multi-factor analysis
)

// Known returns true for rule types the engine can dispatch.
func (t RuleType) Known() bool {
	switch t {
	case RuleTypeTitleSimilarity, RuleTypeIdentifierExact, RuleTypeIdentifierFuzzy,
		RuleTypeDateCreator, RuleTypeChecksum, RuleTypeCombined:
		return true
	}
	return false
}

// Similarity algorithm names accepted in RuleConfig.Algorithm
const (
	AlgorithmLevenshtein = "levenshtein"
	AlgorithmJaroWinkler = "jaro_winkler"
	AlgorithmSoundex     = "soundex"
)

// Rule defines how to identify duplicate records. Rules are created by an
// administrator and read-only to the engine.
type Rule struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Description  *string    `json:"description,omitempty" db:"description"`
	RuleType     RuleType   `json:"rule_type" db:"rule_type"`
	Threshold    float64    `json:"threshold" db:"threshold"`
	IsBlocking   bool       `json:"is_blocking" db:"is_blocking"`
	IsEnabled    bool       `json:"is_enabled" db:"is_enabled"`
	Priority     int        `json:"priority" db:"priority"`
	RepositoryID *int       `json:"repository_id,omitempty" db:"repository_id"` // nil = global
	Config       RuleConfig `json:"config" db:"config"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// RuleConfig holds per-type tunables. Fields not meaningful for a rule type
// are simply ignored by its matcher.
type RuleConfig struct {
	Algorithm      string           `json:"algorithm,omitempty"`        // title_similarity: levenshtein | jaro_winkler | soundex
	MinTitleLength int              `json:"min_title_length,omitempty"` // title_similarity: skip shorter titles (default 5)
	Weights        *CombinedWeights `json:"weights,omitempty"`          // combined: factor weights
	Extra          map[string]any   `json:"extra,omitempty"`            // rule-specific extension values
}

// Scan implements sql.Scanner so the config can live in a JSONB column.
func (c *RuleConfig) Scan(src any) error {
	if src == nil {
		*c = RuleConfig{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("RuleConfig.Scan: expected []byte, got %T", src)
	}
	return json.Unmarshal(b, c)
}

func (c RuleConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// CombinedWeights are the factor weights for the combined rule. The date and
// creator slots are accepted and persisted, but the sub-checks that would fill
// those factors are not run by the combined rule, so they contribute zero.
type CombinedWeights struct {
	Title      float64 `json:"title"`
	Identifier float64 `json:"identifier"`
	Date       float64 `json:"date"`
	Creator    float64 `json:"creator"`
}

// DefaultCombinedWeights returns the weights used when a combined rule has none configured.
func DefaultCombinedWeights() CombinedWeights {
	return CombinedWeights{Title: 0.4, Identifier: 0.3, Date: 0.15, Creator: 0.15}
}

// CreateRuleRequest is the request to create a rule.
type CreateRuleRequest struct {
	Name         string     `json:"name" validate:"required"`
	Description  *string    `json:"description,omitempty"`
	RuleType     RuleType   `json:"rule_type" validate:"required"`
	Threshold    float64    `json:"threshold" validate:"gte=0,lte=1"`
	IsBlocking   bool       `json:"is_blocking"`
	IsEnabled    bool       `json:"is_enabled"`
	Priority     int        `json:"priority"`
	RepositoryID *int       `json:"repository_id,omitempty"`
	Config       RuleConfig `json:"config"`
}

// UpdateRuleRequest is the request to update a rule.
type UpdateRuleRequest struct {
	Name         *string     `json:"name,omitempty"`
	Description  *string     `json:"description,omitempty"`
	Threshold    *float64    `json:"threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	IsBlocking   *bool       `json:"is_blocking,omitempty"`
	IsEnabled    *bool       `json:"is_enabled,omitempty"`
	Priority     *int        `json:"priority,omitempty"`
	RepositoryID *int        `json:"repository_id,omitempty"`
	Config       *RuleConfig `json:"config,omitempty"`
}
