package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"p2pscope/internal/report"
)

func TestLoadSnapshot_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "snapshot.yaml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestLoadSnapshot_Corrupt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := os.WriteFile(path, []byte("topology: [unterminated"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadSnapshot(path); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v", err)
	}
}

func TestSaveSnapshot_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results", "snapshot.yaml")
	in := report.Snapshot{
		RunID:       "6f1c2a0e-0000-4000-8000-000000000000",
		GeneratedAt: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC),
		Sources:     2,
		Topology:    report.Topology{Nodes: 2, ActiveLinks: 1, AvgDegree: 1, Density: 1, Degrees: map[string]int{"node-10001": 1, "node-10002": 1}},
		Latency:     report.Latency{Samples: 1, Mean: 5, P95: 5, P95Approximate: true},
		LoadBalance: report.LoadBalance{Min: 0, Max: 3, Imbalance: report.UndefinedRatio()},
		Stability: report.Stability{MostStable: []report.LinkStability{
			{A: "node-10001", B: "node-10002", DurationSeconds: 1.5, Active: true},
		}},
		Ranking: []report.NodeScore{{Rank: 1, NodeID: "node-10001", Score: 9.2}},
	}
	if err := SaveSnapshot(path, in); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	out, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if diff := cmp.Diff(in, out, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip (-in +out):\n%s", diff)
	}
}

func TestSaveSnapshot_SetsGeneratedAt(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := SaveSnapshot(path, report.Snapshot{LoadBalance: report.LoadBalance{Imbalance: report.DefinedRatio(1.25)}}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	out, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if out.GeneratedAt.IsZero() {
		t.Fatalf("generated_at not set")
	}
	if out.LoadBalance.Imbalance != report.DefinedRatio(1.25) {
		t.Fatalf("imbalance=%v", out.LoadBalance.Imbalance)
	}
}
