// Package policy implements the attribute-based access-control store and
// evaluator that gates capability issuance. Rules are evaluated in priority
// order with first-deny-wins, first-allow-wins, default-deny semantics.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Effect is a rule's outcome when it matches.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Operator compares a resolved context field against a condition value.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpIn       Operator = "in"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpGte      Operator = "gte"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
)

// Condition is a single field/operator/value predicate. All conditions of a
// rule are AND-combined.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Rule is one ordered entry of a policy.
type Rule struct {
	ID         string      `json:"id"`
	Effect     Effect      `json:"effect"`
	Priority   int         `json:"priority"` // lower = evaluated first
	Actions    []string    `json:"actions"`  // namespace:verb strings
	Conditions []Condition `json:"conditions,omitempty"`
}

// Policy is an ordered rule collection plus identity metadata.
type Policy struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Hash      string    `json:"hash"`
	Rules     []Rule    `json:"rules"`
}

// Decision is the evaluation outcome.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Result carries a full evaluation outcome, including the policy metadata
// that certifies which policy version produced the decision.
type Result struct {
	Decision       Decision  `json:"decision"`
	MatchedRuleID  string    `json:"matched_rule_id,omitempty"`
	AllowedActions []string  `json:"allowed_actions,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	PolicyID       string    `json:"policy_id"`
	PolicyVersion  int       `json:"policy_version"`
	PolicyHash     string    `json:"policy_hash"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
	DurationMS     float64   `json:"duration_ms"`
}

// ComputeHash returns the SHA-256 fingerprint over the RFC 8785 canonical
// serialization of the rule list. Deterministic across field order and
// whitespace, so equal rule sets always hash identically.
func ComputeHash(rules []Rule) (string, error) {
	raw, err := json.Marshal(rules)
	if err != nil {
		return "", fmt.Errorf("marshal rules: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize rules: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
