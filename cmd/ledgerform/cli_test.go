package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// executeCmd runs a subcommand with captured output. Package-level flag
// variables are reset first; cobra parses into them, so stale values from
// previous tests would leak otherwise.
func executeCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	catalogDBOverride = ""
	catalogJSONOutput = false
	repairWrite = false

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func TestCatalogSeedAndList(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	stdout, _, err := executeCmd(t, "catalog", "seed", "--db", dbPath)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(stdout, "Seeded") {
		t.Errorf("seed output = %q", stdout)
	}

	stdout, _, err = executeCmd(t, "catalog", "list", "--db", dbPath, "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	var resp struct {
		Types            []json.RawMessage `json:"types"`
		TransactionTypes []json.RawMessage `json:"transaction_types"`
	}
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("parse list output: %v\n%s", err, stdout)
	}
	if len(resp.Types) == 0 || len(resp.TransactionTypes) == 0 {
		t.Errorf("list returned %d types, %d transaction types", len(resp.Types), len(resp.TransactionTypes))
	}
}

func TestCatalogListEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")

	stdout, _, err := executeCmd(t, "catalog", "list", "--db", dbPath)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(stdout, "Catalog is empty") {
		t.Errorf("output = %q", stdout)
	}
}

func TestRepairCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "props.json")
	doc := `{"0": "[", "1": "{", "amount": 500, "currency": "USD"}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	_, stderr, err := executeCmd(t, "repair", path, "--write")
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !strings.Contains(stderr, "Corruption repaired") {
		t.Errorf("stderr = %q", stderr)
	}

	repaired, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read repaired file: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(repaired, &m); err != nil {
		t.Fatalf("parse repaired file: %v", err)
	}
	if _, ok := m["0"]; ok {
		t.Error("numeric key survived repair")
	}
	if _, ok := m["amount"]; !ok {
		t.Error("healthy field dropped by repair")
	}
}

func TestRepairHealthyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "healthy.json")
	if err := os.WriteFile(path, []byte(`{"amount": 500}`), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	stdout, stderr, err := executeCmd(t, "repair", path)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !strings.Contains(stderr, "healthy") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "amount") {
		t.Errorf("stdout = %q", stdout)
	}
}
