// Copyright (C) 2026 Kaspa Stack contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package envfile

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRead_MissingFileIsEmpty(t *testing.T) {
	values, err := Read(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(values) != 0 {
		t.Errorf("values = %v, want empty", values)
	}
}

func TestRead_ParsesCommentsAndQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# stack configuration
KASPA_NETWORK=mainnet
KASPA_NODE_P2P_PORT="16111"
KASPA_MINING_ADDRESS='kaspa:qqtest'

# trailing comment
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	values, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := map[string]string{
		"KASPA_NETWORK":       "mainnet",
		"KASPA_NODE_P2P_PORT": "16111",
		"KASPA_MINING_ADDRESS": "kaspa:qqtest",
	}
	if !reflect.DeepEqual(values, want) {
		t.Errorf("values = %v, want %v", values, want)
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	values := map[string]string{
		"KASPA_NETWORK":      "testnet-10",
		"KASPLEX_DB_PASSWORD": "s3cret value",
	}

	if err := Write(path, values); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got, values) {
		t.Errorf("round-trip = %v, want %v", got, values)
	}
}

func TestWrite_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := Write(path, map[string]string{"A": "1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Write(path, map[string]string{"A": "2"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	values, _ := Read(path)
	if values["A"] != "2" {
		t.Errorf("A = %q, want 2", values["A"])
	}

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want just .env", len(entries))
	}
}

func TestParse(t *testing.T) {
	values, err := Parse("X=1\nY=two\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if values["X"] != "1" || values["Y"] != "two" {
		t.Errorf("values = %v", values)
	}
}

func TestDiff(t *testing.T) {
	a := map[string]string{"KEEP": "1", "CHANGE": "old", "DROP": "x"}
	b := map[string]string{"KEEP": "1", "CHANGE": "new", "ADD": "y"}

	added, removed, changed := Diff(a, b)

	if !reflect.DeepEqual(added, []string{"ADD"}) {
		t.Errorf("added = %v", added)
	}
	if !reflect.DeepEqual(removed, []string{"DROP"}) {
		t.Errorf("removed = %v", removed)
	}
	if !reflect.DeepEqual(changed, []string{"CHANGE"}) {
		t.Errorf("changed = %v", changed)
	}
}

func TestDiff_SortedOutput(t *testing.T) {
	a := map[string]string{
		"Z_CHANGE": "old", "A_CHANGE": "old", "M_CHANGE": "old",
		"Z_DROP": "x", "A_DROP": "x",
	}
	b := map[string]string{
		"Z_CHANGE": "new", "A_CHANGE": "new", "M_CHANGE": "new",
		"Z_ADD": "y", "A_ADD": "y", "M_ADD": "y",
	}

	// Map iteration order varies between runs; the results must not.
	added, removed, changed := Diff(a, b)

	if !reflect.DeepEqual(added, []string{"A_ADD", "M_ADD", "Z_ADD"}) {
		t.Errorf("added = %v, want sorted", added)
	}
	if !reflect.DeepEqual(removed, []string{"A_DROP", "Z_DROP"}) {
		t.Errorf("removed = %v, want sorted", removed)
	}
	if !reflect.DeepEqual(changed, []string{"A_CHANGE", "M_CHANGE", "Z_CHANGE"}) {
		t.Errorf("changed = %v, want sorted", changed)
	}
}

func TestDiff_Empty(t *testing.T) {
	added, removed, changed := Diff(nil, nil)
	if added != nil || removed != nil || changed != nil {
		t.Errorf("diff of nil maps = %v %v %v", added, removed, changed)
	}
}
