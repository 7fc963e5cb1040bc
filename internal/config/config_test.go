package config

import (
	"strings"
	"testing"
)

func TestParseBasicProgram(t *testing.T) {
	src := `
# a comment
program echo_once
command = echo hi
autostart = true
autorestart = never
`
	programs, err := parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(programs) != 1 {
		t.Fatalf("expected 1 program, got %d", len(programs))
	}
	p := programs[0]
	if p.Name != "echo_once" || p.Command != "echo hi" || !p.Autostart || p.Autorestart != Never {
		t.Fatalf("unexpected program: %+v", p)
	}
}

func TestParseMultiplePrograms(t *testing.T) {
	src := `
program crasher
command = exit 2
autorestart = always
restart_delay = 1

program flaky
command = exit 1
autorestart = on-failure
max_restarts = 3
`
	programs, err := parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(programs) != 2 {
		t.Fatalf("expected 2 programs, got %d", len(programs))
	}
	if programs[0].Name != "crasher" || programs[0].Autorestart != Always || programs[0].RestartDelaySec != 1 {
		t.Fatalf("unexpected crasher: %+v", programs[0])
	}
	if programs[1].Name != "flaky" || programs[1].Autorestart != OnFailure || programs[1].MaxRestarts != 3 {
		t.Fatalf("unexpected flaky: %+v", programs[1])
	}
}

func TestParseDefaults(t *testing.T) {
	src := "program p\ncommand = true\n"
	programs, err := parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := programs[0]
	if !p.Autostart {
		t.Errorf("expected autostart default true")
	}
	if p.Autorestart != Never {
		t.Errorf("expected autorestart default never")
	}
	if p.RestartDelaySec != 0 || p.MaxRestarts != 0 {
		t.Errorf("expected zero-value restart fields by default")
	}
}

func TestMissingCommandIsInvalid(t *testing.T) {
	src := "program p\nautostart = true\n"
	if _, err := parse(strings.NewReader(src)); err == nil {
		t.Fatal("expected error for missing command")
	}
}

func TestKeyOutsideProgramBlock(t *testing.T) {
	src := "command = true\n"
	if _, err := parse(strings.NewReader(src)); err == nil {
		t.Fatal("expected error for key=value outside a program block")
	}
}

func TestUnknownKeyRejected(t *testing.T) {
	src := "program p\ncommand = true\nbogus = 1\n"
	if _, err := parse(strings.NewReader(src)); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseMemoryUnits(t *testing.T) {
	cases := map[string]int64{
		"0":     0,
		"512":   512,
		"1KB":   1024,
		"2MB":   2 * 1024 * 1024,
		"3 GB":  3 * 1024 * 1024 * 1024,
		"4mb":   4 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := parseMemory(in)
		if err != nil {
			t.Errorf("parseMemory(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("parseMemory(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMemoryRejectsGarbage(t *testing.T) {
	for _, in := range []string{"-5", "abc", "5TB", "5 4"} {
		if _, err := parseMemory(in); err == nil {
			t.Errorf("parseMemory(%q): expected error", in)
		}
	}
}

func TestParseCPU(t *testing.T) {
	v, err := parseCPU("0.5")
	if err != nil || v != 0.5 {
		t.Fatalf("parseCPU(0.5) = %v, %v", v, err)
	}
	if _, err := parseCPU("-1"); err == nil {
		t.Fatal("expected error for negative cpu_limit")
	}
	if _, err := parseCPU("1.5x"); err == nil {
		t.Fatal("expected error for trailing garbage")
	}
}

func TestProgramNameValidation(t *testing.T) {
	longName := strings.Repeat("a", 64)
	if _, err := parse(strings.NewReader("program " + longName + "\ncommand = true\n")); err == nil {
		t.Fatal("expected error for over-long program name")
	}
	if _, err := parse(strings.NewReader("program a/b\ncommand = true\n")); err == nil {
		t.Fatal("expected error for program name with path separator")
	}
}
