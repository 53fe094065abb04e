package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand(t *testing.T) {
	cmd := newRootCmd()

	if cmd == nil {
		t.Fatal("expected root command, got nil")
	}

	if cmd.Use != "multiwin" {
		t.Errorf("expected use 'multiwin', got %q", cmd.Use)
	}

	// Verify subcommands are registered
	expectedCommands := []string{
		"run",
		"status",
		"version",
		"completion",
	}

	for _, cmdName := range expectedCommands {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == cmdName {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected subcommand %q to be registered", cmdName)
		}
	}
}

func TestRootCommandHelp(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--help"})

	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(output)

	err := cmd.Execute()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	help := output.String()

	expectedStrings := []string{
		"Multiwin",
		"window",
		"run",
		"status",
		"version",
		"completion",
	}

	for _, want := range expectedStrings {
		if !strings.Contains(help, want) {
			t.Errorf("expected help to contain %q", want)
		}
	}
}

func TestRootCommandPersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	expectedFlags := []string{
		"config",
		"mode",
		"output",
		"verbose",
		"no-color",
		"timeout",
	}

	for _, flagName := range expectedFlags {
		flag := cmd.PersistentFlags().Lookup(flagName)
		if flag == nil {
			t.Errorf("expected persistent flag %q to be defined", flagName)
		}
	}
}

func TestRootCommandFlagDefaults(t *testing.T) {
	cmd := newRootCmd()

	tests := []struct {
		name     string
		flag     string
		expected string
	}{
		{
			name:     "config default",
			flag:     "config",
			expected: "",
		},
		{
			name:     "mode default",
			flag:     "mode",
			expected: "",
		},
		{
			name:     "output default",
			flag:     "output",
			expected: "",
		},
		{
			name:     "verbose default",
			flag:     "verbose",
			expected: "false",
		},
		{
			name:     "no-color default",
			flag:     "no-color",
			expected: "false",
		},
		{
			name:     "timeout default",
			flag:     "timeout",
			expected: "0s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := cmd.PersistentFlags().Lookup(tt.flag)
			if flag == nil {
				t.Fatalf("flag %q not found", tt.flag)
			}
			if flag.DefValue != tt.expected {
				t.Errorf("expected default %q, got %q", tt.expected, flag.DefValue)
			}
		})
	}
}

func TestRunCommandFlags(t *testing.T) {
	cmd := newRunCmd()

	for _, flagName := range []string{
		"stop-on-first",
		"force-mode",
		"batch-size",
		"stagger",
		"stop-timeout",
	} {
		if cmd.Flags().Lookup(flagName) == nil {
			t.Errorf("expected run flag %q to be defined", flagName)
		}
	}

	metricsFlag := cmd.Flags().Lookup("metrics")
	if metricsFlag == nil {
		t.Fatal("expected hidden metrics flag")
	}
	if !metricsFlag.Hidden {
		t.Error("metrics flag should be hidden")
	}
}

func TestStatusCommandFlags(t *testing.T) {
	cmd := newStatusCmd()

	if cmd.Flags().Lookup("wide") == nil {
		t.Error("expected status flag 'wide' to be defined")
	}
}
