// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
ProfileCatalog: the static registry of deployment profiles.

A profile is a named bundle of services the user can opt into (node,
explorer, indexer, social app, mining bridge). The catalog records each
profile's member services, mutual-exclusion conflicts, hard dependencies
(requires-all and requires-any), soft prerequisites, and the migration
table for legacy profile identifiers.

Resolution is deterministic: the same input set always yields the same
normalized set and issue list. Conflict pairs are symmetric but reported
exactly once.
*/
package main

import (
	"fmt"
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// TaskType identifies a category of long-running background work.
type TaskType string

const (
	TaskNodeSync          TaskType = "node-sync"
	TaskIndexerSync       TaskType = "indexer-sync"
	TaskDatabaseMigration TaskType = "database-migration"
)

// Severity grades validation and resolution issues.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ServiceSpec describes one deployable unit within a profile.
type ServiceSpec struct {
	// Name is the stable service name used in the compose descriptor.
	Name string

	// Image is the pre-built image reference; empty for locally-built
	// services.
	Image string

	// Build marks services built from a local Dockerfile rather than
	// pulled.
	Build bool

	// Sync names the background task type started after this service
	// comes up, or "" if the service needs no sync phase.
	Sync TaskType
}

// SoftPrereq is a recommended but non-blocking companion profile.
type SoftPrereq struct {
	// Profile is the recommended companion profile id.
	Profile string

	// RemoteFallback is true when a public remote endpoint can stand in
	// for the missing profile. Downgrades the issue to info severity.
	RemoteFallback bool

	// Reason explains the recommendation in the emitted warning.
	Reason string
}

// Profile is one immutable catalog entry.
type Profile struct {
	ID          string
	Name        string
	Description string
	Services    []ServiceSpec

	// Conflicts lists mutually-exclusive profile ids. Symmetry is
	// enforced by the catalog validity check in tests.
	Conflicts []string

	// RequiresAll lists profiles that must all be selected.
	RequiresAll []string

	// RequiresAny lists profiles of which at least one must be selected.
	RequiresAny []string

	SoftPrereqs []SoftPrereq
}

// ResolveIssue is one error or warning from profile resolution.
type ResolveIssue struct {
	// Profiles names the profile(s) involved.
	Profiles []string

	// Message is the human-readable description.
	Message string

	// Severity is info or warning for warnings; errors carry no
	// severity grade (they always block).
	Severity Severity
}

// ResolveResult is the outcome of Catalog.Resolve.
type ResolveResult struct {
	// Normalized is the deduplicated post-migration profile id list, in
	// first-seen order.
	Normalized []string

	Errors   []ResolveIssue
	Warnings []ResolveIssue
}

// Valid reports whether resolution produced no errors.
func (r *ResolveResult) Valid() bool {
	return len(r.Errors) == 0
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

// Catalog is the static profile registry. Construct with DefaultCatalog;
// the data is immutable after construction and safe for concurrent use.
type Catalog struct {
	profiles map[string]*Profile
	order    []string

	// legacy maps retired profile ids to their replacements
	// (1-to-1 or 1-to-many).
	legacy map[string][]string
}

// DefaultCatalog returns the product catalog of deployable profiles.
func DefaultCatalog() *Catalog {
	profiles := []*Profile{
		{
			ID:          "kaspa-node",
			Name:        "Kaspa Node",
			Description: "Pruned rusty-kaspad full node",
			Services: []ServiceSpec{
				{Name: "kaspa-node", Image: "supertypo/rusty-kaspad:latest", Sync: TaskNodeSync},
			},
			Conflicts: []string{"archive-node"},
		},
		{
			ID:          "archive-node",
			Name:        "Archive Node",
			Description: "Non-pruning rusty-kaspad node retaining full history",
			Services: []ServiceSpec{
				{Name: "archive-node", Image: "supertypo/rusty-kaspad:latest", Sync: TaskNodeSync},
			},
			Conflicts: []string{"kaspa-node"},
		},
		{
			ID:          "kaspa-explorer",
			Name:        "Kaspa Explorer",
			Description: "Block explorer web UI with REST API",
			Services: []ServiceSpec{
				{Name: "kaspa-explorer", Build: true},
				{Name: "kaspa-rest-server", Image: "supertypo/kaspa-rest-server:latest"},
			},
			SoftPrereqs: []SoftPrereq{
				{
					Profile:        "kaspa-node",
					RemoteFallback: true,
					Reason:         "without a local node the explorer uses the public Kaspa API",
				},
			},
		},
		{
			ID:          "kasplex-indexer",
			Name:        "Kasplex Indexer",
			Description: "KRC-20 token indexer with PostgreSQL backend",
			Services: []ServiceSpec{
				{Name: "kasplex-indexer", Build: true, Sync: TaskIndexerSync},
				{Name: "kasplex-db", Image: "postgres:16-alpine", Sync: TaskDatabaseMigration},
			},
			RequiresAny: []string{"kaspa-node", "archive-node"},
		},
		{
			ID:          "k-social",
			Name:        "K-Social",
			Description: "On-chain social application",
			Services: []ServiceSpec{
				{Name: "k-social", Build: true},
				{Name: "k-social-db", Image: "mongo:7"},
			},
			RequiresAll: []string{"kasplex-indexer"},
			SoftPrereqs: []SoftPrereq{
				{
					Profile: "kaspa-explorer",
					Reason:  "the explorer is recommended for inspecting K-Social transactions",
				},
			},
		},
		{
			ID:          "kaspa-stratum",
			Name:        "Mining Bridge",
			Description: "Stratum bridge for solo mining against the local node",
			Services: []ServiceSpec{
				{Name: "kaspa-stratum", Image: "onemorebsmith/kaspa-stratum-bridge:latest"},
			},
			RequiresAny: []string{"kaspa-node", "archive-node"},
		},
	}

	c := &Catalog{
		profiles: make(map[string]*Profile, len(profiles)),
		legacy: map[string][]string{
			"core":     {"kaspa-node"},
			"explorer": {"kaspa-explorer"},
			"mining":   {"kaspa-stratum"},
			// Retired bundle id, expands 1-to-many.
			"full-stack": {"kaspa-node", "kaspa-explorer", "kasplex-indexer"},
		},
	}
	for _, p := range profiles {
		c.profiles[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// Profile returns the catalog entry for id, or nil if unknown.
func (c *Catalog) Profile(id string) *Profile {
	return c.profiles[id]
}

// ProfileIDs returns all current profile ids in catalog order.
func (c *Catalog) ProfileIDs() []string {
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	return ids
}

// Resolve normalizes and validates a requested profile id set.
//
// # Description
//
// Migrates legacy ids to their current replacements (deduplicated,
// with one deprecation warning per legacy id), rejects unknown ids,
// detects mutual-exclusion conflicts (each symmetric pair reported
// once), and checks requires-all / requires-any dependencies. Soft
// prerequisites produce warnings only: info severity when a remote
// fallback exists, warning otherwise.
//
// # Inputs
//
//   - profileIDs: Requested ids; legacy ids accepted.
//
// # Outputs
//
//   - *ResolveResult: Normalized ids plus ordered errors and warnings.
//     Deterministic for a given input.
func (c *Catalog) Resolve(profileIDs []string) *ResolveResult {
	result := &ResolveResult{}

	// Step 1: migrate legacy ids, dedupe in first-seen order.
	seen := make(map[string]bool)
	for _, id := range profileIDs {
		if replacements, ok := c.legacy[id]; ok {
			result.Warnings = append(result.Warnings, ResolveIssue{
				Profiles: []string{id},
				Message: fmt.Sprintf("profile %q is deprecated, use %s instead",
					id, strings.Join(replacements, ", ")),
				Severity: SeverityWarning,
			})
			for _, r := range replacements {
				if !seen[r] {
					seen[r] = true
					result.Normalized = append(result.Normalized, r)
				}
			}
			continue
		}
		if _, ok := c.profiles[id]; !ok {
			result.Errors = append(result.Errors, ResolveIssue{
				Profiles: []string{id},
				Message:  fmt.Sprintf("unknown profile %q", id),
			})
			continue
		}
		if !seen[id] {
			seen[id] = true
			result.Normalized = append(result.Normalized, id)
		}
	}

	selected := make(map[string]bool, len(result.Normalized))
	for _, id := range result.Normalized {
		selected[id] = true
	}

	// Step 2: conflicts, each symmetric pair reported once.
	reportedPairs := make(map[string]bool)
	for _, id := range result.Normalized {
		for _, other := range c.profiles[id].Conflicts {
			if !selected[other] {
				continue
			}
			pair := []string{id, other}
			sort.Strings(pair)
			key := pair[0] + "|" + pair[1]
			if reportedPairs[key] {
				continue
			}
			reportedPairs[key] = true
			result.Errors = append(result.Errors, ResolveIssue{
				Profiles: pair,
				Message: fmt.Sprintf("profiles %q and %q cannot be selected together",
					pair[0], pair[1]),
			})
		}
	}

	// Step 3: hard dependencies.
	for _, id := range result.Normalized {
		p := c.profiles[id]

		var missing []string
		for _, dep := range p.RequiresAll {
			if !selected[dep] {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			result.Errors = append(result.Errors, ResolveIssue{
				Profiles: []string{id},
				Message: fmt.Sprintf("profile %q requires %s",
					id, strings.Join(missing, ", ")),
			})
		}

		if len(p.RequiresAny) > 0 {
			satisfied := false
			for _, dep := range p.RequiresAny {
				if selected[dep] {
					satisfied = true
					break
				}
			}
			if !satisfied {
				result.Errors = append(result.Errors, ResolveIssue{
					Profiles: []string{id},
					Message: fmt.Sprintf("profile %q requires one of: %s",
						id, strings.Join(p.RequiresAny, ", ")),
				})
			}
		}
	}

	// Step 4: soft prerequisites, warnings only.
	for _, id := range result.Normalized {
		for _, prereq := range c.profiles[id].SoftPrereqs {
			if selected[prereq.Profile] {
				continue
			}
			severity := SeverityWarning
			if prereq.RemoteFallback {
				severity = SeverityInfo
			}
			result.Warnings = append(result.Warnings, ResolveIssue{
				Profiles: []string{id, prereq.Profile},
				Message: fmt.Sprintf("profile %q recommends %q: %s",
					id, prereq.Profile, prereq.Reason),
				Severity: severity,
			})
		}
	}

	return result
}

// -----------------------------------------------------------------------------
// Deployment Lookups
// -----------------------------------------------------------------------------

// ServicesFor returns the expected service names for the given
// normalized profiles, deduplicated in catalog order.
func (c *Catalog) ServicesFor(profileIDs []string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, spec := range c.serviceSpecsFor(profileIDs) {
		if !seen[spec.Name] {
			seen[spec.Name] = true
			names = append(names, spec.Name)
		}
	}
	return names
}

// ImagesFor returns the pre-built images to pull for the given
// normalized profiles, deduplicated across profiles.
func (c *Catalog) ImagesFor(profileIDs []string) []string {
	var images []string
	seen := make(map[string]bool)
	for _, spec := range c.serviceSpecsFor(profileIDs) {
		if spec.Image == "" || seen[spec.Image] {
			continue
		}
		seen[spec.Image] = true
		images = append(images, spec.Image)
	}
	return images
}

// BuildServicesFor returns the locally-built services for the given
// normalized profiles.
func (c *Catalog) BuildServicesFor(profileIDs []string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, spec := range c.serviceSpecsFor(profileIDs) {
		if !spec.Build || seen[spec.Name] {
			continue
		}
		seen[spec.Name] = true
		names = append(names, spec.Name)
	}
	return names
}

// SyncServicesFor returns the services requiring a background sync
// phase, keyed by service name.
func (c *Catalog) SyncServicesFor(profileIDs []string) map[string]TaskType {
	syncs := make(map[string]TaskType)
	for _, spec := range c.serviceSpecsFor(profileIDs) {
		if spec.Sync != "" {
			syncs[spec.Name] = spec.Sync
		}
	}
	return syncs
}

func (c *Catalog) serviceSpecsFor(profileIDs []string) []ServiceSpec {
	var specs []ServiceSpec
	for _, id := range profileIDs {
		p := c.profiles[id]
		if p == nil {
			continue
		}
		specs = append(specs, p.Services...)
	}
	return specs
}
