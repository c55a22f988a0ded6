package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedOutput string
		expectError    bool
	}{
		{
			name:           "help flag",
			args:           []string{"--help"},
			expectedOutput: "Corkboard server",
		},
		{
			name:           "short help flag",
			args:           []string{"-h"},
			expectedOutput: "Corkboard server",
		},
		{
			name:           "invalid flag",
			args:           []string{"--invalid-flag"},
			expectedOutput: "unknown flag: --invalid-flag",
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Fresh command per case so flag state does not leak.
			cmd := newRootCommand()

			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			output := buf.String()

			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !strings.Contains(output, tt.expectedOutput) {
				t.Errorf("expected output to contain %q, got:\n%s", tt.expectedOutput, output)
			}
		})
	}
}

func TestRootCommandSubcommands(t *testing.T) {
	cmd := newRootCommand()

	expected := []string{"serve", "worker", "process", "migrate", "erase-user", "healthcheck", "version"}
	for _, name := range expected {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected subcommand %q to be registered", name)
		}
	}
}

func TestRootCommandPersistentFlags(t *testing.T) {
	cmd := newRootCommand()

	for _, flag := range []string{"config", "log-level", "log-format"} {
		if f := cmd.PersistentFlags().Lookup(flag); f == nil {
			t.Errorf("expected persistent flag %q", flag)
		}
	}
}

func TestMigrateCommandFlags(t *testing.T) {
	cmd := newRootCommand()
	migrate, _, err := cmd.Find([]string{"migrate", "down"})
	if err != nil {
		t.Fatalf("find migrate down: %v", err)
	}
	if f := migrate.Flags().Lookup("steps"); f == nil || f.DefValue != "1" {
		t.Errorf("expected --steps flag defaulting to 1, got %v", f)
	}
	if f := migrate.InheritedFlags().Lookup("path"); f == nil {
		t.Errorf("expected inherited --path flag")
	}
}

func TestMigrateDownRejectsNonPositiveSteps(t *testing.T) {
	cmd := newRootCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"migrate", "down", "--steps", "0"})

	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--steps must be positive") {
		t.Errorf("expected steps validation error, got %v", err)
	}
}

func TestEraseUserRequiresValidUserID(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing flag", args: []string{"erase-user"}, want: "user-id"},
		{name: "not a uuid", args: []string{"erase-user", "--user-id", "bob"}, want: "--user-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCommand()
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs(tt.args)

			err := cmd.Execute()
			if err == nil {
				t.Fatal("expected error but got none")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %q, got %v", tt.want, err)
			}
		})
	}
}

func TestProcessCommandFlags(t *testing.T) {
	cmd := newProcessCommand(&rootOptions{})

	if err := cmd.ParseFlags([]string{"--batch-size", "25", "--recover-stale"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if got, _ := cmd.Flags().GetInt("batch-size"); got != 25 {
		t.Errorf("expected batch-size 25, got %d", got)
	}
	if got, _ := cmd.Flags().GetBool("recover-stale"); !got {
		t.Errorf("expected recover-stale to be set")
	}
	if err := cmd.ParseFlags([]string{"--batch-size", "many"}); err == nil {
		t.Errorf("expected error for non-numeric batch size")
	}
}
