// Package cgroup implements the Resource-Limit Controller: it creates a
// per-program cgroup v2 leaf under a fixed supervisor-scoped subtree and
// applies CPU and memory limits to it.
//
// Layout: <Root>/supervisor/<program-name>/{memory.max, cpu.max, cgroup.procs}
//
// KEY CONCEPT: cgroups v2 unified hierarchy. Creating a directory under
// cgroupfs creates a cgroup; the kernel populates it with control files.
// Writing a pid to cgroup.procs moves the whole process (and its threads)
// into that cgroup atomically.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultRoot is the cgroup v2 mount point on most Linux distributions.
const DefaultRoot = "/sys/fs/cgroup"

const supervisorGroup = "supervisor"

// Controller applies and removes per-program resource limits under Root.
type Controller struct {
	Root string
}

// New returns a Controller rooted at the default cgroup v2 mount.
func New() *Controller {
	return &Controller{Root: DefaultRoot}
}

func (c *Controller) leafPath(name string) (string, error) {
	root := c.Root
	if root == "" {
		root = DefaultRoot
	}
	path := filepath.Join(root, supervisorGroup, name)
	// filepath.Join already collapses separators; guard against a leaf
	// name that would overflow a conventional path length, mirroring the
	// original implementation's fixed-buffer length check.
	if len(path) > 4096 {
		return "", fmt.Errorf("cgroup path for %q too long", name)
	}
	return path, nil
}

func ensureDir(path string) error {
	if err := os.Mkdir(path, 0755); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// writeFile performs the open-truncate-write-close a cgroup control file
// expects; a short write is treated as a failure even though the payloads
// here are always small.
func writeFile(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := f.WriteString(value)
	if err != nil {
		return err
	}
	if n != len(value) {
		return fmt.Errorf("short write to %s: wrote %d of %d bytes", path, n, len(value))
	}
	return nil
}

// Setup creates (or reuses) the program's cgroup leaf, applies the
// configured memory and CPU limits, and enlists pid into it. Failures are
// returned for the caller to log; they are never fatal to the child.
func (c *Controller) Setup(name string, memoryLimitBytes int64, cpuLimit float64, pid int) error {
	root := c.Root
	if root == "" {
		root = DefaultRoot
	}
	if err := ensureDir(filepath.Join(root, supervisorGroup)); err != nil {
		return fmt.Errorf("create supervisor cgroup: %w", err)
	}

	leaf, err := c.leafPath(name)
	if err != nil {
		return err
	}
	if err := ensureDir(leaf); err != nil {
		return fmt.Errorf("create cgroup leaf for %s: %w", name, err)
	}

	if memoryLimitBytes > 0 {
		if err := writeFile(filepath.Join(leaf, "memory.max"), strconv.FormatInt(memoryLimitBytes, 10)); err != nil {
			return fmt.Errorf("set memory.max for %s: %w", name, err)
		}
	}

	if cpuLimit > 0 {
		const period = 100000
		quota := int64(cpuLimit*period + 0.5) // round to nearest microsecond
		value := fmt.Sprintf("%d %d", quota, period)
		if err := writeFile(filepath.Join(leaf, "cpu.max"), value); err != nil {
			return fmt.Errorf("set cpu.max for %s: %w", name, err)
		}
	}

	if err := writeFile(filepath.Join(leaf, "cgroup.procs"), strconv.Itoa(pid)); err != nil {
		return fmt.Errorf("enlist pid %d for %s: %w", pid, name, err)
	}

	return nil
}

// Cleanup removes a program's cgroup leaf. A missing leaf is a no-op, not
// an error, so shutdown can call this unconditionally for every program.
func (c *Controller) Cleanup(name string) error {
	leaf, err := c.leafPath(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(leaf); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
