// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

// ConfigField is one declarative configuration field: key, label,
// required flag, default, rule chain, and a visibility predicate over
// the normalized profile selection.
type ConfigField struct {
	Key      string
	Label    string
	Required bool
	Default  string
	Rules    []Rule

	// Visible reports whether the field applies to the selection.
	// Nil means always visible (common field).
	Visible func(selected map[string]bool) bool
}

// deprecatedKeys maps retired configuration keys to their replacements.
// Values under old keys are migrated with a deprecation warning; a
// value already present under the new key wins.
var deprecatedKeys = map[string]string{
	"KASPAD_NETWORK":    "KASPA_NETWORK",
	"KASPAD_P2P_PORT":   "KASPA_NODE_P2P_PORT",
	"KASPAD_RPC_PORT":   "KASPA_NODE_RPC_PORT",
	"EXPLORER_PORT":     "KASPA_EXPLORER_PORT",
	"MINING_ADDRESS":    "KASPA_MINING_ADDRESS",
	"STRATUM_PORT":      "KASPA_STRATUM_PORT",
	"INDEXER_DB_PASS":   "KASPLEX_DB_PASSWORD",
	"INDEXER_LOCAL_URL": "KASPLEX_API_URL",
}

// portFields is the fixed, ordered set of port-bearing fields scanned
// by the cross-field port-conflict check. Order determines which field
// of a colliding pair is reported as the offender (the later one).
var portFields = []string{
	"KASPA_NODE_P2P_PORT",
	"KASPA_NODE_RPC_PORT",
	"KASPA_EXPLORER_PORT",
	"KASPA_REST_PORT",
	"KASPLEX_DB_PORT",
	"KSOCIAL_PORT",
	"KASPA_STRATUM_PORT",
}

func anyOf(ids ...string) func(map[string]bool) bool {
	return func(selected map[string]bool) bool {
		for _, id := range ids {
			if selected[id] {
				return true
			}
		}
		return false
	}
}

// configFields is the full field catalog. Common fields (nil Visible)
// apply to every installation; the rest are scoped by profile.
var configFields = []ConfigField{
	// Common
	{
		Key:      "KASPA_NETWORK",
		Label:    "Kaspa network",
		Required: true,
		Default:  "mainnet",
		Rules:    []Rule{EnumRule{Allowed: []string{"mainnet", "testnet-10", "simnet", "devnet"}}},
	},
	{
		Key:      "STACK_DATA_DIR",
		Label:    "Data directory",
		Required: true,
		Default:  "~/.kaspastack/data",
		Rules:    []Rule{PathRule{}},
	},
	{
		Key:     "KASPA_NODE_P2P_PORT",
		Label:   "Node P2P port",
		Default: "16111",
		Rules:   []Rule{PortRule()},
		Visible: anyOf("kaspa-node", "archive-node"),
	},
	{
		Key:     "KASPA_NODE_RPC_PORT",
		Label:   "Node RPC port",
		Default: "16110",
		Rules:   []Rule{PortRule()},
		Visible: anyOf("kaspa-node", "archive-node"),
	},

	// Explorer
	{
		Key:     "KASPA_EXPLORER_PORT",
		Label:   "Explorer web port",
		Default: "8080",
		Rules:   []Rule{PortRule()},
		Visible: anyOf("kaspa-explorer"),
	},
	{
		Key:     "KASPA_REST_PORT",
		Label:   "REST API port",
		Default: "8000",
		Rules:   []Rule{PortRule()},
		Visible: anyOf("kaspa-explorer"),
	},
	{
		Key:     "KASPA_API_URL",
		Label:   "Explorer API endpoint",
		Default: "http://kaspa-rest-server:8000",
		Rules:   []Rule{URLRule{}},
		Visible: anyOf("kaspa-explorer"),
	},

	// Kasplex indexer
	{
		Key:     "KASPLEX_DB_PORT",
		Label:   "Indexer database port",
		Default: "5432",
		Rules:   []Rule{PortRule()},
		Visible: anyOf("kasplex-indexer"),
	},
	{
		Key:      "KASPLEX_DB_PASSWORD",
		Label:    "Indexer database password",
		Required: true,
		Rules:    []Rule{MinLengthRule{N: 8}},
		Visible:  anyOf("kasplex-indexer"),
	},
	{
		Key:     "KASPLEX_API_URL",
		Label:   "Local indexer endpoint",
		Rules:   []Rule{URLRule{}},
		Visible: anyOf("kasplex-indexer", "k-social"),
	},
	{
		Key:     "KASPLEX_PUBLIC_API_URL",
		Label:   "Public indexer endpoint",
		Rules:   []Rule{URLRule{}},
		Visible: anyOf("kasplex-indexer", "k-social"),
	},

	// K-Social
	{
		Key:     "KSOCIAL_PORT",
		Label:   "K-Social web port",
		Default: "3000",
		Rules:   []Rule{PortRule()},
		Visible: anyOf("k-social"),
	},

	// Mining bridge
	{
		Key:     "KASPA_STRATUM_PORT",
		Label:   "Stratum listen port",
		Default: "5555",
		Rules:   []Rule{PortRule()},
		Visible: anyOf("kaspa-stratum"),
	},
	{
		Key:      "KASPA_MINING_ADDRESS",
		Label:    "Mining payout address",
		Required: true,
		Rules:    []Rule{AddressRule{}},
		Visible:  anyOf("kaspa-stratum"),
	},
	{
		Key:     "KASPA_WALLET_PASSWORD",
		Label:   "Wallet password",
		Rules:   []Rule{PasswordStrengthRule{}},
		Visible: anyOf("kaspa-stratum"),
	},

	// Confirmation flag for the mixed-endpoint warning
	{
		Key:     "CONFIRM_MIXED_ENDPOINTS",
		Label:   "Confirm mixed indexer endpoints",
		Rules:   []Rule{EnumRule{Allowed: []string{"true", "false"}}},
		Visible: anyOf("kasplex-indexer", "k-social"),
	},
}
