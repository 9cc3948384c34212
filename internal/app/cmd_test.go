package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数無しはserve", []string{}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"余分な引数は無視", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) error = %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_UnknownReturnsError(t *testing.T) {
	for _, arg := range []string{"migrat", "Serve", "-h"} {
		t.Run(arg, func(t *testing.T) {
			cmd, err := ParseCommand([]string{arg})
			if err == nil {
				t.Fatalf("ParseCommand([%s]) = %q, want error", arg, cmd)
			}
			if !strings.Contains(err.Error(), "migrate") {
				t.Errorf("error should list available commands, got %v", err)
			}
		})
	}
}

func TestRun_UnknownCommand_DoesNotInitialize(t *testing.T) {
	clearRequiredEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrat"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("Run(migrat) error = %v, want unknown command", err)
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be logged before the command is resolved, got %s", buf.String())
	}
}
