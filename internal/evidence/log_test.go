package evidence

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/swarmgate/internal/model"
)

func testRecord(actionID string, ctx []string) model.DecisionRecord {
	return model.DecisionRecord{
		ActionID:        actionID,
		AgentID:         "scout-1",
		Target:          "10.0.5.10:443",
		Tool:            "web_scan",
		Outcome:         model.VerdictAllow,
		DecisionContext: ctx,
		RunID:           model.RunCoordinated,
		Timestamp:       time.Now().UTC(),
	}
}

func TestAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	for i, id := range []string{"act-1", "act-2", "act-3"} {
		if err := log.Append(testRecord(id, []string{"sig-a"})); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[1].ActionID != "act-2" {
		t.Errorf("expected ordered records, got %s at index 1", records[1].ActionID)
	}
}

func TestAppendValidatesRecord(t *testing.T) {
	log, err := Open(filepath.Join(t.TempDir(), "evidence.jsonl"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	bad := testRecord("act-1", []string{"sig-a"})
	bad.RunID = "mystery"
	if err := log.Append(bad); err == nil {
		t.Error("expected error for unknown run id")
	}

	noID := testRecord("", []string{"sig-a"})
	if err := log.Append(noID); err == nil {
		t.Error("expected error for missing action id")
	}
}

func TestEmptyContextTaintsButPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	err = log.Append(testRecord("act-1", nil))
	if !errors.Is(err, model.ErrDataIntegrity) {
		t.Fatalf("expected ErrDataIntegrity, got %v", err)
	}

	// The defect is recorded, not dropped.
	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("tainted record must still be persisted, got %d records", len(records))
	}
	if !records[0].Tainted {
		t.Error("expected persisted record to carry the tainted flag")
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	log.Append(testRecord("act-1", []string{"sig-a"}))
	log.Append(testRecord("act-2", []string{"sig-a"}))
	log.Close()

	log, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	log.Append(testRecord("act-3", []string{"sig-a"}))
	log.Close()

	res := Verify(path)
	if !res.Valid {
		t.Fatalf("chain broken across reopen: line %d: %s", res.ErrorLine, res.Error)
	}
	if res.Lines != 3 {
		t.Errorf("expected 3 lines, got %d", res.Lines)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	log.Append(testRecord("act-1", []string{"sig-a"}))
	log.Append(testRecord("act-2", []string{"sig-a"}))
	log.Append(testRecord("act-3", []string{"sig-a"}))
	log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	tampered := strings.Replace(string(data), "act-2", "act-X", 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatalf("write tampered log: %v", err)
	}

	res := Verify(path)
	if res.Valid {
		t.Fatal("expected tampered chain to fail verification")
	}
	if res.ErrorLine != 3 {
		t.Errorf("expected break detected at line 3, got %d", res.ErrorLine)
	}
}

func TestVerifyCountsTainted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	log.Append(testRecord("act-1", []string{"sig-a"}))
	log.Append(testRecord("act-2", nil)) // tainted
	log.Close()

	res := Verify(path)
	if !res.Valid {
		t.Fatalf("unexpected verify failure: %s", res.Error)
	}
	if res.Tainted != 1 {
		t.Errorf("expected 1 tainted record, got %d", res.Tainted)
	}
}

func TestVerifyRejectsWrongGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evidence.jsonl")
	line := `{"record":{"action_id":"a","run_id":"coordinated"},"prev_hash":"sha256:beef"}`
	if err := os.WriteFile(path, []byte(line+"\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	res := Verify(path)
	if res.Valid || res.ErrorLine != 1 {
		t.Errorf("expected genesis failure at line 1, got %+v", res)
	}
}
