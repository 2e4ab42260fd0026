package logdir

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"p2pscope/internal/config"
)

func touch(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestDiscover_MapsNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	touch(t, dir, "node-10.log", "")
	touch(t, dir, "node-2.log", "hello")
	touch(t, dir, "node-02.log", "")
	touch(t, dir, "controller.log", "")
	touch(t, dir, "node-x.log", "")
	if err := os.Mkdir(filepath.Join(dir, "node-3.log"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	sources, err := Discover(dir, config.DefaultNamespace())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("sources=%+v", sources)
	}
	if sources[0].Name != "node-02.log" || sources[1].Name != "node-2.log" || sources[2].Name != "node-10.log" {
		t.Fatalf("order=%+v", sources)
	}
	if sources[1].NodeID != "node-10002" || sources[2].NodeID != "node-10010" || sources[2].Index != 10 {
		t.Fatalf("ids=%+v", sources)
	}

	rc, err := sources[1].Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("data=%q", data)
	}
}

func TestDiscover_MissingDir(t *testing.T) {
	t.Parallel()

	if _, err := Discover(filepath.Join(t.TempDir(), "absent"), config.DefaultNamespace()); err == nil {
		t.Fatalf("expected error")
	}
}
