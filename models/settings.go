package models

import (
	"fmt"
	"regexp"
	"strings"
)

// RecordExclusionRule keeps matching exchanges out of the traffic log.
type RecordExclusionRule struct {
	ID          string `json:"id"`
	RuleType    string `json:"rule_type" enum:"file_extension,url_regex,prefix"`
	Pattern     string `json:"pattern" example:".map"`
	Description string `json:"description,omitempty"`
	IsEnabled   bool   `json:"is_enabled"`
}

// RecordExclusionRulesKey is the app_settings key for the record exclusion rules.
const RecordExclusionRulesKey = "record_exclusion_rules"

// PluginSpec names a dev-server plugin and its settings, in registration order.
type PluginSpec struct {
	Name     string                 `json:"name" yaml:"name" example:"spa"`
	Settings map[string]interface{} `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Validate checks the rule type and, for url_regex rules, that the pattern compiles.
func (r RecordExclusionRule) Validate() error {
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("exclusion rule %q: pattern is empty", r.ID)
	}
	switch r.RuleType {
	case "file_extension", "prefix":
	case "url_regex":
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("exclusion rule %q: %w", r.ID, err)
		}
	default:
		return fmt.Errorf("exclusion rule %q: unknown rule_type %q", r.ID, r.RuleType)
	}
	return nil
}
