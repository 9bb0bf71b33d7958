package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"devgate/logger"
	"devgate/models"
)

// GetSetting retrieves a specific setting value from the app_settings table.
func GetSetting(key string) (string, error) {
	var value string
	err := DB.QueryRow("SELECT value FROM app_settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get setting '%s': %w", key, err)
	}
	return value, nil
}

// SetSetting saves or updates a specific setting value in the app_settings table.
func SetSetting(key, value string) error {
	_, err := DB.Exec("INSERT OR REPLACE INTO app_settings (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to execute set setting for key '%s': %w", key, err)
	}
	return nil
}

// GetRecordExclusionRules retrieves the rules that keep exchanges out of the traffic log.
func GetRecordExclusionRules() ([]models.RecordExclusionRule, error) {
	rulesJSON, err := GetSetting(models.RecordExclusionRulesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get record exclusion rules setting: %w", err)
	}
	if rulesJSON == "" {
		return []models.RecordExclusionRule{}, nil
	}

	var rules []models.RecordExclusionRule
	if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
		logger.Error("GetRecordExclusionRules: Error unmarshalling rules JSON: %v. Stored value: %s", err, rulesJSON)
		return nil, fmt.Errorf("failed to unmarshal record exclusion rules: %w", err)
	}
	return rules, nil
}

// SetRecordExclusionRules saves the record exclusion rules. A nil slice stores an empty list.
func SetRecordExclusionRules(rules []models.RecordExclusionRule) error {
	if rules == nil {
		rules = []models.RecordExclusionRule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to marshal record exclusion rules to JSON: %w", err)
	}
	if err := SetSetting(models.RecordExclusionRulesKey, string(rulesJSON)); err != nil {
		return fmt.Errorf("failed to save record exclusion rules setting: %w", err)
	}
	return nil
}
