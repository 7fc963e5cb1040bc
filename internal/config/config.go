// Package config loads the supervisor's program configuration file.
//
// The format is line-oriented, not a generic serialization format, so it
// is parsed by hand rather than through a marshal/unmarshal library:
//
//	# comment
//	program name
//	key = value
//	...
//
// Blank lines and lines starting with '#' are ignored. A `program <name>`
// line opens a block that runs until the next `program` header or EOF.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// RestartPolicy controls whether a program is respawned after it exits.
type RestartPolicy int

const (
	Never RestartPolicy = iota
	OnFailure
	Always
)

func (p RestartPolicy) String() string {
	switch p {
	case Never:
		return "never"
	case OnFailure:
		return "on-failure"
	case Always:
		return "always"
	default:
		return "unknown"
	}
}

func parseRestartPolicy(value string) (RestartPolicy, error) {
	switch strings.ToLower(value) {
	case "never":
		return Never, nil
	case "on-failure":
		return OnFailure, nil
	case "always":
		return Always, nil
	default:
		return Never, fmt.Errorf("invalid restart policy %q", value)
	}
}

// Program is the immutable identity and policy for one managed program.
type Program struct {
	Name        string
	Command     string
	Autostart   bool
	Autorestart RestartPolicy

	RestartDelaySec int
	MaxRestarts     int

	MemoryLimitBytes int64
	CPULimit         float64

	StdoutPath string
	StderrPath string
}

// Describe renders a program's resolved configuration for the startup
// banner, mirroring the original implementation's load-time printout.
func (p Program) Describe() string {
	stdout := p.StdoutPath
	if stdout == "" {
		stdout = "(none)"
	}
	stderr := p.StderrPath
	if stderr == "" {
		stderr = "(none)"
	}
	return fmt.Sprintf(
		"Program: %s\n  command: %s\n  autostart: %t\n  autorestart: %s\n  restart_delay: %d\n  max_restarts: %d\n  memory_limit: %d\n  cpu_limit: %g\n  stdout: %s\n  stderr: %s",
		p.Name, p.Command, p.Autostart, p.Autorestart, p.RestartDelaySec, p.MaxRestarts,
		p.MemoryLimitBytes, p.CPULimit, stdout, stderr,
	)
}

// maxNameLen mirrors the fixed-buffer bound in the original C config
// parser; it keeps names short enough to serve as cgroup leaf names.
const maxNameLen = 63

// Load reads and validates a configuration file, returning one Program
// per declared block in file order.
func Load(path string) ([]Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) ([]Program, error) {
	scanner := bufio.NewScanner(r)
	var programs []Program
	var current *Program
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "program ") || line == "program" {
			name := strings.TrimSpace(strings.TrimPrefix(line, "program"))
			if name == "" {
				return nil, fmt.Errorf("line %d: program name missing", lineNo)
			}
			if len(name) > maxNameLen {
				return nil, fmt.Errorf("line %d: program name %q exceeds %d bytes", lineNo, name, maxNameLen)
			}
			if strings.ContainsAny(name, "/\\") {
				return nil, fmt.Errorf("line %d: program name %q must not contain path separators", lineNo, name)
			}
			programs = append(programs, Program{
				Name:        name,
				Autostart:   true,
				Autorestart: Never,
			})
			current = &programs[len(programs)-1]
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("line %d: key=value outside program block", lineNo)
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid line (no '=')", lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if err := applyKey(current, key, value); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	for _, p := range programs {
		if p.Command == "" {
			return nil, fmt.Errorf("program %q missing command", p.Name)
		}
	}

	return programs, nil
}

func applyKey(p *Program, key, value string) error {
	switch strings.ToLower(key) {
	case "command":
		p.Command = value
	case "autostart":
		v, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for autostart: %w", err)
		}
		p.Autostart = v
	case "autorestart":
		v, err := parseRestartPolicy(value)
		if err != nil {
			return err
		}
		p.Autorestart = v
	case "restart_delay":
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid restart_delay %q", value)
		}
		p.RestartDelaySec = v
	case "max_restarts":
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 {
			return fmt.Errorf("invalid max_restarts %q", value)
		}
		p.MaxRestarts = v
	case "stdout":
		p.StdoutPath = value
	case "stderr":
		p.StderrPath = value
	case "memory_limit":
		v, err := parseMemory(value)
		if err != nil {
			return fmt.Errorf("invalid memory_limit: %w", err)
		}
		p.MemoryLimitBytes = v
	case "cpu_limit":
		v, err := parseCPU(value)
		if err != nil {
			return fmt.Errorf("invalid cpu_limit: %w", err)
		}
		p.CPULimit = v
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected true/false, got %q", value)
	}
}

// parseMemory accepts an integer byte count with an optional case-insensitive
// KB/MB/GB suffix; no suffix means raw bytes.
func parseMemory(value string) (int64, error) {
	value = strings.TrimSpace(value)
	unitStart := len(value)
	for unitStart > 0 && !isDigitByte(value[unitStart-1]) {
		unitStart--
	}
	numPart := value[:unitStart]
	unit := strings.ToUpper(strings.TrimSpace(value[unitStart:]))

	n, err := strconv.ParseInt(strings.TrimSpace(numPart), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid numeric value %q", value)
	}

	switch unit {
	case "":
		return n, nil
	case "KB":
		return n * 1024, nil
	case "MB":
		return n * 1024 * 1024, nil
	case "GB":
		return n * 1024 * 1024 * 1024, nil
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
}

func isDigitByte(b byte) bool {
	return b >= '0' && b <= '9'
}

// parseCPU parses a non-negative real number, rejecting trailing garbage
// the way the original strtod-based parser did.
func parseCPU(value string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value %q", value)
	}
	if v < 0 {
		return 0, fmt.Errorf("cpu_limit must be >= 0, got %g", v)
	}
	return v, nil
}
