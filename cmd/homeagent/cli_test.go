package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
  "intent": {"provider": "none"},
  "store": {"path": "` + filepath.ToSlash(filepath.Join(dir, "homeagent.db")) + `"},
  "log": {"level": "error"}
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestCLIHelpListsCommands(t *testing.T) {
	cases := []struct {
		args []string
		want []string
	}{
		{[]string{"--help"}, []string{"chat", "status", "devices", "version", "--config"}},
		{[]string{"chat", "--help"}, []string{"--message", "--session", "--user", "--debug"}},
		{[]string{"status", "--help"}, []string{"--user"}},
	}

	for _, tc := range cases {
		t.Run(strings.Join(tc.args, " "), func(t *testing.T) {
			output, err := runRootCommandForTest(tc.args...)
			if err != nil {
				t.Fatalf("execute %v: %v\nOutput:\n%s", tc.args, err, output)
			}
			for _, want := range tc.want {
				if !strings.Contains(output, want) {
					t.Fatalf("help for %v is missing %q:\n%s", tc.args, want, output)
				}
			}
		})
	}
}

func TestRootWithoutSubcommandFails(t *testing.T) {
	if _, err := runRootCommandForTest(); err == nil {
		t.Fatalf("expected an error without a subcommand")
	}
}

func TestVersionCommand(t *testing.T) {
	output, err := runRootCommandForTest("version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(output, "homeagent dev") {
		t.Fatalf("unexpected version output %q", output)
	}
}

func TestDevicesCommandListsSeed(t *testing.T) {
	cfg := writeTestConfig(t)
	output, err := runRootCommandForTest("devices", "--config", cfg)
	if err != nil {
		t.Fatalf("devices: %v\n%s", err, output)
	}
	for _, want := range []string{"Living room lights", "air_conditioner", "set_temperature", "Off:"} {
		if !strings.Contains(output, want) {
			t.Fatalf("devices output missing %q:\n%s", want, output)
		}
	}
}

func TestChatOneShotThenStatus(t *testing.T) {
	cfg := writeTestConfig(t)

	output, err := runRootCommandForTest("chat", "--config", cfg, "--user", "alice", "--message", "hello there")
	if err != nil {
		t.Fatalf("chat: %v\n%s", err, output)
	}
	if !strings.Contains(output, "Session: ") {
		t.Fatalf("chat output has no session id:\n%s", output)
	}

	output, err = runRootCommandForTest("status", "--config", cfg, "--user", "alice")
	if err != nil {
		t.Fatalf("status: %v\n%s", err, output)
	}
	for _, want := range []string{"Intent provider: none", "User: alice", "Interactions: 1", "Sessions: 1 (2 messages)"} {
		if !strings.Contains(output, want) {
			t.Fatalf("status output missing %q:\n%s", want, output)
		}
	}
}

func TestChatRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"intent": {"provider": "none"}, "tasks": {"queue_size": 0}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := runRootCommandForTest("chat", "--config", path, "--message", "hi")
	if err == nil || !strings.Contains(err.Error(), "tasks.queue_size") {
		t.Fatalf("expected a configuration error naming tasks.queue_size, got %v", err)
	}
}

func TestSourceHeaderNamesProject(t *testing.T) {
	src, err := os.ReadFile("main.go")
	if err != nil {
		t.Fatalf("read main.go: %v", err)
	}
	header := strings.SplitN(string(src), "\n", 6)
	if !strings.HasPrefix(header[0], "// homeagent - ") {
		t.Fatalf("unexpected project line %q", header[0])
	}
	if !strings.Contains(header[4], "homeagent contributors") {
		t.Fatalf("unexpected copyright line %q", header[4])
	}
}
