package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/datapilot/chainkvm/pkg/protocol"
)

// policyFile is the YAML schema for bootstrap policies installed at
// gateway start.
type policyFile struct {
	Policies []struct {
		ID    string `yaml:"id"`
		Name  string `yaml:"name"`
		Rules []struct {
			ID         string   `yaml:"id"`
			Effect     string   `yaml:"effect"`
			Priority   int      `yaml:"priority"`
			Actions    []string `yaml:"actions"`
			Conditions []struct {
				Field    string `yaml:"field"`
				Operator string `yaml:"operator"`
				Value    any    `yaml:"value"`
			} `yaml:"conditions"`
		} `yaml:"rules"`
	} `yaml:"policies"`
}

// LoadFile installs every policy defined in a YAML file into the store.
// Returns the installed policy ids.
func LoadFile(store *Store, path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}

	var installed []string
	for _, p := range pf.Policies {
		rules := make([]Rule, 0, len(p.Rules))
		for _, r := range p.Rules {
			for _, action := range r.Actions {
				if !protocol.IsValidAction(action) {
					return installed, fmt.Errorf("policy %s rule %s: invalid action %q", p.ID, r.ID, action)
				}
			}
			rule := Rule{
				ID:       r.ID,
				Effect:   Effect(r.Effect),
				Priority: r.Priority,
				Actions:  r.Actions,
			}
			for _, c := range r.Conditions {
				rule.Conditions = append(rule.Conditions, Condition{
					Field:    c.Field,
					Operator: Operator(c.Operator),
					Value:    c.Value,
				})
			}
			rules = append(rules, rule)
		}
		if _, err := store.Create(p.ID, p.Name, rules); err != nil {
			return installed, fmt.Errorf("install policy %s: %w", p.ID, err)
		}
		installed = append(installed, p.ID)
	}
	return installed, nil
}

// DefaultPolicyID names the policy installed when no policy file is
// configured.
const DefaultPolicyID = "teleop-default"

// DefaultTeleopPolicy returns the bootstrap policy: operators may view,
// control, and emergency-stop.
func DefaultTeleopPolicy() (string, string, []Rule) {
	return DefaultPolicyID, "Default teleoperation policy", []Rule{{
		ID:       "allow-operator-teleop",
		Effect:   EffectAllow,
		Priority: 100,
		Actions:  []string{protocol.ScopeView, protocol.ScopeControl, protocol.ScopeEStop},
		Conditions: []Condition{{
			Field:    "role",
			Operator: OpEq,
			Value:    "operator",
		}},
	}}
}
