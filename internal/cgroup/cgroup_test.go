package cgroup

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// fakeCgroupFS roots the controller at an empty temporary directory so
// Setup/Cleanup can exercise their write paths: a plain filesystem can't
// simulate memory.max/cpu.max semantics in a unit test, but it can verify
// the path composition, file contents, and idempotence the controller is
// responsible for.
func fakeCgroupFS(t *testing.T) *Controller {
	t.Helper()
	return &Controller{Root: t.TempDir()}
}

func TestSetupWritesLimitsAndEnlistsPID(t *testing.T) {
	c := fakeCgroupFS(t)
	if err := c.Setup("myapp", 128*1024*1024, 0.5, 4242); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	leaf := filepath.Join(c.Root, "supervisor", "myapp")
	mem, err := os.ReadFile(filepath.Join(leaf, "memory.max"))
	if err != nil || string(mem) != strconv.Itoa(128*1024*1024) {
		t.Errorf("memory.max = %q, %v", mem, err)
	}

	cpu, err := os.ReadFile(filepath.Join(leaf, "cpu.max"))
	if err != nil || string(cpu) != "50000 100000" {
		t.Errorf("cpu.max = %q, %v", cpu, err)
	}

	procs, err := os.ReadFile(filepath.Join(leaf, "cgroup.procs"))
	if err != nil || string(procs) != "4242" {
		t.Errorf("cgroup.procs = %q, %v", procs, err)
	}
}

func TestSetupSkipsDisabledLimits(t *testing.T) {
	c := fakeCgroupFS(t)
	if err := c.Setup("nolimits", 0, 0, 99); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	leaf := filepath.Join(c.Root, "supervisor", "nolimits")
	if _, err := os.Stat(filepath.Join(leaf, "memory.max")); !os.IsNotExist(err) {
		t.Errorf("expected no memory.max when limit is 0")
	}
	if _, err := os.Stat(filepath.Join(leaf, "cpu.max")); !os.IsNotExist(err) {
		t.Errorf("expected no cpu.max when limit is 0")
	}
}

func TestSetupToleratesAlreadyExists(t *testing.T) {
	c := fakeCgroupFS(t)
	if err := c.Setup("again", 1024, 0, 1); err != nil {
		t.Fatalf("first Setup: %v", err)
	}
	if err := c.Setup("again", 2048, 0, 2); err != nil {
		t.Fatalf("second Setup on existing leaf should succeed: %v", err)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	c := fakeCgroupFS(t)
	if err := c.Cleanup("never-existed"); err != nil {
		t.Errorf("Cleanup on a missing leaf should be a no-op, got %v", err)
	}

	if err := c.Setup("doomed", 1024, 0, 1); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := c.Cleanup("doomed"); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if err := c.Cleanup("doomed"); err != nil {
		t.Errorf("second Cleanup should also be a no-op, got %v", err)
	}
}

func TestLeafPathRejectsOverlongNames(t *testing.T) {
	c := fakeCgroupFS(t)
	longName := strings.Repeat("x", 5000)
	if err := c.Setup(longName, 1024, 0, 1); err == nil {
		t.Fatal("expected an error for an overlong cgroup leaf name")
	}
}
