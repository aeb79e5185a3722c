package app

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{args: []string{}, want: CommandServe},
		{args: []string{"serve"}, want: CommandServe},
		{args: []string{"worker"}, want: CommandWorker},
		{args: []string{"migrate"}, want: CommandMigrate},
		{args: []string{"healthcheck"}, want: CommandHealthcheck},
		{args: []string{"process", "user-1"}, want: CommandProcess},
		{args: []string{"unknown"}, want: CommandServe},
		{args: []string{"worker", "--flag", "value"}, want: CommandWorker},
	}

	for _, tt := range tests {
		if got := ParseCommand(tt.args); got != tt.want {
			t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestProcessOwnerID(t *testing.T) {
	id, err := processOwnerID([]string{"process", "4b1f0c3e-0000-4000-8000-000000000001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "4b1f0c3e-0000-4000-8000-000000000001" {
		t.Errorf("owner ID = %q", id)
	}

	for _, args := range [][]string{{"process"}, {"process", ""}} {
		if _, err := processOwnerID(args); !errors.Is(err, errMissingOwnerID) {
			t.Errorf("processOwnerID(%v) error = %v, want errMissingOwnerID", args, err)
		}
	}
}
