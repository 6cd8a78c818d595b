package wrapper

import (
	"context"
	"os"
	"testing"
)

func TestDefaultStrategyRunForMissCapturesOutputAndExitCode(t *testing.T) {
	s := DefaultStrategy{}
	result, err := s.RunForMiss(context.Background(), []string{"sh", "-c", "echo out; echo err >&2; exit 0"})
	if err != nil {
		t.Fatalf("RunForMiss() error = %v", err)
	}
	if result.ReturnCode != 0 {
		t.Fatalf("ReturnCode = %d, want 0", result.ReturnCode)
	}
	if string(result.Stdout) != "out\n" {
		t.Fatalf("Stdout = %q, want %q", result.Stdout, "out\n")
	}
	if string(result.Stderr) != "err\n" {
		t.Fatalf("Stderr = %q, want %q", result.Stderr, "err\n")
	}
}

func TestDefaultStrategyRunForMissNonZeroExit(t *testing.T) {
	s := DefaultStrategy{}
	result, err := s.RunForMiss(context.Background(), []string{"sh", "-c", "exit 7"})
	if err != nil {
		t.Fatalf("RunForMiss() error = %v", err)
	}
	if result.ReturnCode != 7 {
		t.Fatalf("ReturnCode = %d, want 7", result.ReturnCode)
	}
}

func TestDefaultStrategyRunForMissAppliesPrefix(t *testing.T) {
	s := DefaultStrategy{Prefix: []string{"sh", "-c"}}
	result, err := s.RunForMiss(context.Background(), []string{"echo hello"})
	if err != nil {
		t.Fatalf("RunForMiss() error = %v", err)
	}
	if string(result.Stdout) != "hello\n" {
		t.Fatalf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
}

func TestDefaultStrategyRunForMissEmptyArgv(t *testing.T) {
	s := DefaultStrategy{}
	if _, err := s.RunForMiss(context.Background(), nil); err == nil {
		t.Fatal("RunForMiss(nil) error = nil, want error")
	}
}

func TestDefaultStrategyRunForMissClearsAndRestoresEnv(t *testing.T) {
	const key = "BUILDCACHE_TEST_CLEAR_ME"
	t.Setenv(key, "original")

	s := DefaultStrategy{ClearEnv: []string{key}}
	result, err := s.RunForMiss(context.Background(), []string{"sh", "-c", "echo -n \"[$" + key + "]\""})
	if err != nil {
		t.Fatalf("RunForMiss() error = %v", err)
	}
	if string(result.Stdout) != "[]" {
		t.Fatalf("Stdout = %q, want %q (env var should have been cleared)", result.Stdout, "[]")
	}
	if got := os.Getenv(key); got != "original" {
		t.Fatalf("%s = %q after RunForMiss(), want restored to %q", key, got, "original")
	}
}

// TestDefaultStrategyClearEnvUnsetsRatherThanBlanks proves ClearEnv removes
// the variable from the child's environment entirely, not merely blanks
// it: "set -u" turns a reference to a genuinely unset variable into a hard
// shell error, which a blank-but-present variable would not trigger.
func TestDefaultStrategyClearEnvUnsetsRatherThanBlanks(t *testing.T) {
	const key = "BUILDCACHE_TEST_CLEAR_ME_UNSET_CHECK"
	t.Setenv(key, "original")

	s := DefaultStrategy{ClearEnv: []string{key}}
	result, err := s.RunForMiss(context.Background(), []string{"sh", "-c", "set -u; echo -n \"[$" + key + "]\""})
	if err != nil {
		t.Fatalf("RunForMiss() error = %v", err)
	}
	if result.ReturnCode == 0 {
		t.Fatal("ReturnCode = 0, want nonzero: set -u should reject a genuinely unset variable")
	}
}

func TestDefaultStrategyHooksHaveNeutralDefaults(t *testing.T) {
	s := DefaultStrategy{}
	ctx := context.Background()

	argv, err := s.ResolveArgs(ctx, []string{"a", "b"})
	if err != nil || len(argv) != 2 {
		t.Fatalf("ResolveArgs() = %v, %v", argv, err)
	}
	if len(s.Capabilities()) != 0 {
		t.Fatalf("Capabilities() = %v, want empty", s.Capabilities())
	}
	src, err := s.PreprocessSource(ctx, argv)
	if err != nil || len(src) != 0 {
		t.Fatalf("PreprocessSource() = %v, %v", src, err)
	}
	if got := s.RelevantArguments(argv); len(got) != 2 {
		t.Fatalf("RelevantArguments() = %v, want full argv", got)
	}
	if env := s.RelevantEnv(nil); len(env) != 0 {
		t.Fatalf("RelevantEnv() = %v, want empty", env)
	}
	files, err := s.BuildFiles(argv)
	if err != nil || files != nil {
		t.Fatalf("BuildFiles() = %v, %v", files, err)
	}
}
