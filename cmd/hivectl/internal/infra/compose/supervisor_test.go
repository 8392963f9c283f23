package compose

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coveline/hivectl/cmd/hivectl/internal/infra/process"
)

func writeComposeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	if err := os.WriteFile(path, []byte("services: {}\n"), 0o644); err != nil {
		t.Fatalf("write compose file: %v", err)
	}
	return path
}

func TestNewDefaultSupervisorValidatesConfig(t *testing.T) {
	proc := &process.MockManager{}

	_, err := NewDefaultSupervisor(Config{}, proc)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing compose file path: got %v, want ErrInvalidConfig", err)
	}

	_, err = NewDefaultSupervisor(Config{ComposeFile: "/nonexistent/compose.yml"}, proc)
	if !errors.Is(err, ErrComposeFileMissing) {
		t.Errorf("nonexistent compose file: got %v, want ErrComposeFileMissing", err)
	}

	procNoBinary := &process.MockManager{
		LookPathFunc: func(name string) (string, error) {
			return "", errors.New("not found")
		},
	}
	_, err = NewDefaultSupervisor(Config{ComposeFile: writeComposeFile(t)}, procNoBinary)
	if !errors.Is(err, ErrComposeNotFound) {
		t.Errorf("missing binary: got %v, want ErrComposeNotFound", err)
	}
}

func TestSupervisorBuildsComposeCommands(t *testing.T) {
	proc := &process.MockManager{}
	file := writeComposeFile(t)
	sup, err := NewDefaultSupervisor(Config{ComposeFile: file, Project: "lab"}, proc)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	ctx := context.Background()

	if err := sup.Start(ctx, "namenode"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := sup.Logs(ctx, "metastore", 50); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if err := sup.Stop(ctx, "hiveserver2"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := sup.Exec(ctx, "metastore-db", "pg_dump", "-d", "metastore"); err != nil {
		t.Fatalf("exec: %v", err)
	}

	want := []string{
		"docker compose -f " + file + " -p lab up -d --no-recreate namenode",
		"docker compose -f " + file + " -p lab logs --no-color --tail 50 metastore",
		"docker compose -f " + file + " -p lab stop hiveserver2",
		"docker compose -f " + file + " -p lab exec -T metastore-db pg_dump -d metastore",
	}
	if len(proc.RunCalls) != len(want) {
		t.Fatalf("recorded %d calls, want %d: %v", len(proc.RunCalls), len(want), proc.RunCalls)
	}
	for i, w := range want {
		if proc.RunCalls[i] != w {
			t.Errorf("call %d = %q, want %q", i, proc.RunCalls[i], w)
		}
	}
}

func TestSupervisorPsParsesServiceStates(t *testing.T) {
	proc := &process.MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("metastore-db\trunning\nnamenode\trunning\nhiveserver2\texited\n"), nil
		},
	}
	sup, err := NewDefaultSupervisor(Config{ComposeFile: writeComposeFile(t)}, proc)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}

	states, err := sup.Ps(context.Background())
	if err != nil {
		t.Fatalf("ps: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("got %d services, want 3: %v", len(states), states)
	}
	if states["hiveserver2"] != "exited" {
		t.Errorf("hiveserver2 state = %q, want exited", states["hiveserver2"])
	}
}

func TestSupervisorLogsDefaultTail(t *testing.T) {
	proc := &process.MockManager{}
	sup, err := NewDefaultSupervisor(Config{ComposeFile: writeComposeFile(t)}, proc)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	if _, err := sup.Logs(context.Background(), "metastore", 0); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(proc.RunCalls[0], "--tail 200") {
		t.Errorf("expected default tail of 200, got %q", proc.RunCalls[0])
	}
}
