// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
ConfigValidator: cross-field validation of a proposed configuration.

Validation runs in fixed order: deprecated-key migration, visible-field
computation, defaults, per-field rule chains, then cross-field checks
(port conflicts, network-change safety, mixed indexer endpoints, wallet
and mining preconditions). Results are returned as structured issue
lists, never panics; errors block proceeding, warnings do not unless
marked PreventChange.

Validation is pure apart from the filesystem probe used to detect
persisted data for a previously configured network.
*/
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaspastack/kaspastack/pkg/logging"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// ValidationIssue is one error or warning from configuration validation.
type ValidationIssue struct {
	// Field is the configuration key involved.
	Field string

	// Message is the human-readable description.
	Message string

	// Type tags the failing rule (required, range, port_conflict,
	// network_change, deprecation, ...).
	Type string

	// Severity grades the issue.
	Severity Severity

	// PreventChange marks warnings that block proceeding despite not
	// being errors.
	PreventChange bool
}

// ValidationResult is the outcome of ConfigValidator.Validate.
// Never mutated after construction.
type ValidationResult struct {
	// Valid is true iff Errors is empty and no warning carries
	// PreventChange.
	Valid bool

	Errors   []ValidationIssue
	Warnings []ValidationIssue

	// Migrated is the post-migration configuration with defaults
	// applied for visible fields.
	Migrated map[string]string
}

// ConfigValidator validates proposed configurations against the field
// catalog and the profile catalog's cross-field constraints.
//
// # Thread Safety
//
// Safe for concurrent use; all state is read-only after construction.
type ConfigValidator struct {
	catalog  *Catalog
	stackDir string
	logger   *logging.Logger
}

// NewConfigValidator creates a validator. stackDir is probed for
// persisted data when a network change is detected.
func NewConfigValidator(catalog *Catalog, stackDir string, logger *logging.Logger) *ConfigValidator {
	if logger == nil {
		logger = logging.Default()
	}
	return &ConfigValidator{
		catalog:  catalog,
		stackDir: stackDir,
		logger:   logger,
	}
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// Validate checks config against the field rules and cross-field
// constraints for the selected profiles.
//
// # Description
//
// Steps: (1) migrate deprecated keys, warning per migration; (2)
// compute the visible-field set over the normalized profiles; (3)
// apply defaults; (4) run per-field rules — a failing required check
// short-circuits that field, other failures accumulate; (5) run
// cross-field checks. previous may be nil for a fresh installation.
//
// # Outputs
//
//   - *ValidationResult: never nil; idempotent for a fixed filesystem
//     state.
func (v *ConfigValidator) Validate(config map[string]string, profiles []string, previous map[string]string) *ValidationResult {
	result := &ValidationResult{
		Migrated: make(map[string]string, len(config)),
	}

	// Step 1: migrate deprecated keys.
	for key, value := range config {
		newKey, deprecated := deprecatedKeys[key]
		if !deprecated {
			result.Migrated[key] = value
			continue
		}
		result.Warnings = append(result.Warnings, ValidationIssue{
			Field:    key,
			Type:     "deprecation",
			Message:  fmt.Sprintf("%s is deprecated, use %s", key, newKey),
			Severity: SeverityWarning,
		})
		if _, exists := config[newKey]; !exists {
			result.Migrated[newKey] = value
		}
	}

	// Step 2: visible-field set over normalized profiles.
	normalized := v.catalog.Resolve(profiles).Normalized
	selected := make(map[string]bool, len(normalized))
	for _, id := range normalized {
		selected[id] = true
	}

	var visible []ConfigField
	for _, field := range configFields {
		if field.Visible == nil || field.Visible(selected) {
			visible = append(visible, field)
		}
	}

	// Step 3: defaults for visible fields with no caller value.
	for _, field := range visible {
		if result.Migrated[field.Key] == "" && field.Default != "" {
			result.Migrated[field.Key] = field.Default
		}
	}

	// Step 4: per-field rule chains.
	for _, field := range visible {
		value := result.Migrated[field.Key]
		if value == "" {
			if field.Required {
				result.Errors = append(result.Errors, ValidationIssue{
					Field:    field.Key,
					Type:     "required",
					Message:  fmt.Sprintf("%s is required", field.Label),
					Severity: SeverityHigh,
				})
			}
			// No value: remaining rules do not apply.
			continue
		}
		for _, rule := range field.Rules {
			if issue := rule.Check(value, result.Migrated); issue != nil {
				issue.Field = field.Key
				result.Errors = append(result.Errors, *issue)
			}
		}
	}

	// Step 5: cross-field checks.
	v.checkPortConflicts(result, visible)
	v.checkNetworkChange(result, previous)
	v.checkMixedEndpoints(result)

	result.Valid = len(result.Errors) == 0
	for _, w := range result.Warnings {
		if w.PreventChange {
			result.Valid = false
			break
		}
	}
	return result
}

// checkPortConflicts scans the fixed port-field order and reports the
// first later field colliding with an earlier one.
func (v *ConfigValidator) checkPortConflicts(result *ValidationResult, visible []ConfigField) {
	visibleKeys := make(map[string]bool, len(visible))
	for _, f := range visible {
		visibleKeys[f.Key] = true
	}

	assigned := make(map[string]string) // port value -> first field
	for _, key := range portFields {
		if !visibleKeys[key] {
			continue
		}
		value := result.Migrated[key]
		if value == "" {
			continue
		}
		if first, taken := assigned[value]; taken {
			result.Errors = append(result.Errors, ValidationIssue{
				Field:    key,
				Type:     "port_conflict",
				Message:  fmt.Sprintf("port %s is already used by %s", value, first),
				Severity: SeverityHigh,
			})
			continue
		}
		assigned[value] = key
	}
}

// checkNetworkChange compares KASPA_NETWORK against the previous
// configuration. A change is a high-severity warning, escalating to
// critical with PreventChange when data for the prior network exists
// on disk.
func (v *ConfigValidator) checkNetworkChange(result *ValidationResult, previous map[string]string) {
	if previous == nil {
		return
	}
	prevNetwork := previous["KASPA_NETWORK"]
	newNetwork := result.Migrated["KASPA_NETWORK"]
	if prevNetwork == "" || newNetwork == "" || prevNetwork == newNetwork {
		return
	}

	issue := ValidationIssue{
		Field: "KASPA_NETWORK",
		Type:  "network_change",
		Message: fmt.Sprintf("changing network from %s to %s requires a full resync",
			prevNetwork, newNetwork),
		Severity: SeverityHigh,
	}
	if v.hasNetworkData(prevNetwork) {
		issue.Severity = SeverityCritical
		issue.PreventChange = true
		issue.Message = fmt.Sprintf(
			"changing network from %s to %s would orphan existing %s data; back up or remove it first",
			prevNetwork, newNetwork, prevNetwork)
	}
	result.Warnings = append(result.Warnings, issue)
}

// checkMixedEndpoints warns when both local and public indexer
// endpoints are configured; the warning blocks until explicitly
// confirmed.
func (v *ConfigValidator) checkMixedEndpoints(result *ValidationResult) {
	local := result.Migrated["KASPLEX_API_URL"]
	public := result.Migrated["KASPLEX_PUBLIC_API_URL"]
	if local == "" || public == "" {
		return
	}
	confirmed := strings.EqualFold(result.Migrated["CONFIRM_MIXED_ENDPOINTS"], "true")
	result.Warnings = append(result.Warnings, ValidationIssue{
		Field: "KASPLEX_PUBLIC_API_URL",
		Type:  "mixed_endpoints",
		Message: "both local and public indexer endpoints are configured; " +
			"set CONFIRM_MIXED_ENDPOINTS=true to proceed",
		Severity:      SeverityHigh,
		PreventChange: !confirmed,
	})
}

// hasNetworkData probes the stack directory for persisted state tied
// to a network: a per-network data directory, or an existing .env /
// compose descriptor from a prior installation.
func (v *ConfigValidator) hasNetworkData(network string) bool {
	if v.stackDir == "" {
		return false
	}
	candidates := []string{
		filepath.Join(v.stackDir, "data", network),
		filepath.Join(v.stackDir, ".env"),
		filepath.Join(v.stackDir, "docker-compose.yml"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}
