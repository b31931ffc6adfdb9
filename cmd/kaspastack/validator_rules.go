// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// -----------------------------------------------------------------------------
// Field Rules
// -----------------------------------------------------------------------------

// Rule is one declarative validation check in a field's rule chain.
//
// Check returns nil when the value passes. The returned issue carries
// the rule's type tag and message; the caller fills in the field key.
type Rule interface {
	Check(value string, cfg map[string]string) *ValidationIssue
}

// RangeRule checks a numeric value against inclusive bounds.
type RangeRule struct {
	Min, Max int
}

func (r RangeRule) Check(value string, _ map[string]string) *ValidationIssue {
	n, err := strconv.Atoi(value)
	if err != nil {
		return &ValidationIssue{
			Type:     "range",
			Message:  fmt.Sprintf("must be a number between %d and %d", r.Min, r.Max),
			Severity: SeverityHigh,
		}
	}
	if n < r.Min || n > r.Max {
		return &ValidationIssue{
			Type:     "range",
			Message:  fmt.Sprintf("%d is outside the allowed range %d-%d", n, r.Min, r.Max),
			Severity: SeverityHigh,
		}
	}
	return nil
}

// PortRule is a RangeRule over valid TCP port numbers.
func PortRule() Rule {
	return RangeRule{Min: 1, Max: 65535}
}

// EnumRule checks membership in a fixed value set.
type EnumRule struct {
	Allowed []string
}

func (r EnumRule) Check(value string, _ map[string]string) *ValidationIssue {
	for _, a := range r.Allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationIssue{
		Type:     "enum",
		Message:  fmt.Sprintf("must be one of: %s", strings.Join(r.Allowed, ", ")),
		Severity: SeverityHigh,
	}
}

// PatternRule checks the value against a compiled regexp.
type PatternRule struct {
	Pattern *regexp.Regexp
	Desc    string
}

func (r PatternRule) Check(value string, _ map[string]string) *ValidationIssue {
	if r.Pattern.MatchString(value) {
		return nil
	}
	return &ValidationIssue{
		Type:     "pattern",
		Message:  r.Desc,
		Severity: SeverityHigh,
	}
}

// MinLengthRule checks a minimum character count.
type MinLengthRule struct {
	N int
}

func (r MinLengthRule) Check(value string, _ map[string]string) *ValidationIssue {
	if len(value) >= r.N {
		return nil
	}
	return &ValidationIssue{
		Type:     "min_length",
		Message:  fmt.Sprintf("must be at least %d characters", r.N),
		Severity: SeverityHigh,
	}
}

// PathRule checks that the value is an absolute filesystem path.
type PathRule struct{}

func (r PathRule) Check(value string, _ map[string]string) *ValidationIssue {
	if strings.HasPrefix(value, "~") || filepath.IsAbs(value) {
		return nil
	}
	return &ValidationIssue{
		Type:     "path",
		Message:  "must be an absolute path (or start with ~)",
		Severity: SeverityHigh,
	}
}

// URLRule checks that the value parses as an http(s) URL.
type URLRule struct{}

func (r URLRule) Check(value string, _ map[string]string) *ValidationIssue {
	u, err := url.Parse(value)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationIssue{
			Type:     "url",
			Message:  "must be a valid http or https URL",
			Severity: SeverityHigh,
		}
	}
	return nil
}

// ConditionalRequiredRule requires a companion field to be set when
// this field has a value.
type ConditionalRequiredRule struct {
	CompanionKey string
	Reason       string
}

func (r ConditionalRequiredRule) Check(value string, cfg map[string]string) *ValidationIssue {
	if value == "" || cfg[r.CompanionKey] != "" {
		return nil
	}
	return &ValidationIssue{
		Type:     "conditional_required",
		Message:  fmt.Sprintf("%s must also be set: %s", r.CompanionKey, r.Reason),
		Severity: SeverityHigh,
	}
}

// -----------------------------------------------------------------------------
// Wallet Password Strength
// -----------------------------------------------------------------------------

// commonPasswordPatterns match weak passwords regardless of length.
var commonPasswordPatterns = regexp.MustCompile(
	`(?i)(password|qwerty|letmein|admin|welcome|kaspa123|12345678)`)

// PasswordStrengthRule enforces wallet password policy: minimum 12
// characters, at least 3 of 4 character classes, and rejection of
// sequential runs, long repeats, and common patterns.
type PasswordStrengthRule struct{}

func (r PasswordStrengthRule) Check(value string, _ map[string]string) *ValidationIssue {
	if len(value) < 12 {
		return &ValidationIssue{
			Type:     "password_strength",
			Message:  "wallet password must be at least 12 characters",
			Severity: SeverityHigh,
		}
	}
	if classes := characterClasses(value); classes < 3 {
		return &ValidationIssue{
			Type:     "password_strength",
			Message:  "wallet password must mix at least 3 of: lowercase, uppercase, digits, symbols",
			Severity: SeverityHigh,
		}
	}
	if commonPasswordPatterns.MatchString(value) {
		return &ValidationIssue{
			Type:     "password_strength",
			Message:  "wallet password contains a common pattern",
			Severity: SeverityHigh,
		}
	}
	if hasSequentialRun(value, 4) {
		return &ValidationIssue{
			Type:     "password_strength",
			Message:  "wallet password contains a sequential character run",
			Severity: SeverityHigh,
		}
	}
	if hasRepeatedRun(value, 4) {
		return &ValidationIssue{
			Type:     "password_strength",
			Message:  "wallet password contains a repeated character run",
			Severity: SeverityHigh,
		}
	}
	return nil
}

// characterClasses counts the distinct classes (lower, upper, digit,
// symbol) present in s.
func characterClasses(s string) int {
	var lower, upper, digit, symbol bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	n := 0
	for _, b := range []bool{lower, upper, digit, symbol} {
		if b {
			n++
		}
	}
	return n
}

// hasSequentialRun reports runs of n ascending or descending adjacent
// characters ("abcd", "4321").
func hasSequentialRun(s string, n int) bool {
	if len(s) < n {
		return false
	}
	runes := []rune(strings.ToLower(s))
	asc, desc := 1, 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1]+1 {
			asc++
			desc = 1
		} else if runes[i] == runes[i-1]-1 {
			desc++
			asc = 1
		} else {
			asc, desc = 1, 1
		}
		if asc >= n || desc >= n {
			return true
		}
	}
	return false
}

// hasRepeatedRun reports runs of n identical adjacent characters.
func hasRepeatedRun(s string, n int) bool {
	run := 1
	runes := []rune(s)
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Kaspa Address Validation
// -----------------------------------------------------------------------------

// bech32Charset is the character set of the kaspa address payload.
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// addressPrefixForNetwork maps KASPA_NETWORK values to the expected
// address prefix.
var addressPrefixForNetwork = map[string]string{
	"mainnet":    "kaspa:",
	"testnet-10": "kaspatest:",
	"simnet":     "kaspasim:",
	"devnet":     "kaspadev:",
}

// ValidateKaspaAddress checks a kaspa address against the selected
// network's prefix and the bech32 payload constraints.
func ValidateKaspaAddress(address, network string) *ValidationIssue {
	prefix, ok := addressPrefixForNetwork[network]
	if !ok {
		prefix = "kaspa:"
	}
	if !strings.HasPrefix(address, prefix) {
		return &ValidationIssue{
			Type:     "address_format",
			Message:  fmt.Sprintf("address must start with %q for network %s", prefix, network),
			Severity: SeverityHigh,
		}
	}
	payload := strings.TrimPrefix(address, prefix)
	if len(payload) < 61 || len(payload) > 63 {
		return &ValidationIssue{
			Type:     "address_format",
			Message:  "address payload has an invalid length",
			Severity: SeverityHigh,
		}
	}
	for _, r := range payload {
		if !strings.ContainsRune(bech32Charset, r) {
			return &ValidationIssue{
				Type:     "address_format",
				Message:  fmt.Sprintf("address contains invalid character %q", r),
				Severity: SeverityHigh,
			}
		}
	}
	return nil
}

// AddressRule validates a kaspa address using the KASPA_NETWORK value
// from the configuration under validation.
type AddressRule struct{}

func (r AddressRule) Check(value string, cfg map[string]string) *ValidationIssue {
	network := cfg["KASPA_NETWORK"]
	if network == "" {
		network = "mainnet"
	}
	return ValidateKaspaAddress(value, network)
}
