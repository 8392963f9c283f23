package util

import (
	"errors"
	"fmt"
	"testing"
)

func TestCommandErrorFormats(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "with stderr",
			err:  NewCommandError("pg_dump", 1, "connection refused\n", nil),
			want: "pg_dump (exit 1): connection refused",
		},
		{
			name: "with wrapped only",
			err:  NewCommandError("schematool", 2, "", errors.New("signal: killed")),
			want: "schematool (exit 2): signal: killed",
		},
		{
			name: "bare",
			err:  NewCommandError("docker compose up", -1, "", nil),
			want: "docker compose up (exit -1)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewCommandError("docker", 1, "", inner)
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find wrapped error")
	}
}

func TestExtractStderr(t *testing.T) {
	cmdErr := NewCommandError("pg_dump", 1, "disk full", nil)
	wrapped := fmt.Errorf("backup failed: %w", cmdErr)

	if got := ExtractStderr(wrapped); got != "disk full" {
		t.Errorf("ExtractStderr = %q, want %q", got, "disk full")
	}
	if got := ExtractStderr(errors.New("plain")); got != "" {
		t.Errorf("ExtractStderr on plain error = %q, want empty", got)
	}
	if got := ExtractStderr(nil); got != "" {
		t.Errorf("ExtractStderr(nil) = %q, want empty", got)
	}
}
