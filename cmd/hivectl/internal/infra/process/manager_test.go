package process

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/coveline/hivectl/cmd/hivectl/internal/util"
)

func TestDefaultManagerRunCapturesStdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires unix shell tools")
	}
	m := NewDefaultManager()
	out, err := m.Run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "hello\n" {
		t.Errorf("stdout = %q, want %q", out, "hello\n")
	}
}

func TestDefaultManagerRunFailureIsCommandError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires unix shell tools")
	}
	m := NewDefaultManager()
	_, err := m.Run(context.Background(), "false")
	if err == nil {
		t.Fatal("expected error from false(1)")
	}
	var cmdErr *util.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected *util.CommandError, got %T", err)
	}
	if cmdErr.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", cmdErr.ExitCode)
	}
}

func TestDefaultManagerRunWithInput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires unix shell tools")
	}
	m := NewDefaultManager()
	out, err := m.RunWithInput(context.Background(), "cat", []byte("piped"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "piped" {
		t.Errorf("stdout = %q, want %q", out, "piped")
	}
}

func TestDefaultManagerRespectsContextCancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires unix shell tools")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewDefaultManager()
	if _, err := m.Run(ctx, "sleep", "10"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestMockManagerRecordsCalls(t *testing.T) {
	mock := &MockManager{}
	mock.Run(context.Background(), "docker", "compose", "ps")
	mock.Run(context.Background(), "pg_dump", "-d", "metastore")

	if mock.CallCount() != 2 {
		t.Fatalf("call count = %d, want 2", mock.CallCount())
	}
	if mock.RunCalls[0] != "docker compose ps" {
		t.Errorf("first call = %q", mock.RunCalls[0])
	}
}

func TestMockManagerDelegates(t *testing.T) {
	wantErr := errors.New("nope")
	mock := &MockManager{
		RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte("out"), wantErr
		},
	}
	out, err := mock.Run(context.Background(), "x")
	if string(out) != "out" || !errors.Is(err, wantErr) {
		t.Errorf("delegate not used: out=%q err=%v", out, err)
	}
}
