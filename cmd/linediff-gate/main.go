// Command linediff-gate runs the repository's verification gates in order.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
)

type gateStep struct {
	label string
	args  []string
	// full marks steps skipped by --quick.
	full bool
}

type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) error
}

type realRunner struct{}

var gateSteps = []gateStep{
	{label: "go vet", args: []string{"vet", "./..."}},
	{label: "unit tests", args: []string{"test", "./...", "-count=1", "-timeout=20m"}},
	{label: "race tests", args: []string{"test", "./...", "-race", "-short", "-count=1", "-timeout=25m"}, full: true},
	{label: "conformance", args: []string{"test", "./conformance", "-count=1", "-timeout=10m", "-v"}},
	{label: "fuzz uleb128", args: []string{"test", "./lnprog", "-run", "^$", "-fuzz", "^FuzzULEB128$", "-fuzztime=20s"}, full: true},
	{label: "fuzz interpreter", args: []string{"test", "./refsim", "-run", "^$", "-fuzz", "^FuzzInterpreterTerminates$", "-fuzztime=20s"}, full: true},
	{label: "model self-check", args: []string{"run", "./cmd/linediff", "--run", "200", "--seed", "1", "--device", "model", "--latency", "3", "--save", os.DevNull}},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, realRunner{}))
}

func run(args []string, stdout, stderr io.Writer, runner commandRunner) int {
	quick := false
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			if err := writeUsage(stdout); err != nil {
				return 1
			}
			return 0
		case "--quick":
			quick = true
		default:
			if err := writef(stderr, "error: unknown argument %q\n", arg); err != nil {
				return 1
			}
			if err := writeUsage(stderr); err != nil {
				return 1
			}
			return 2
		}
	}

	steps := selectSteps(quick)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	for i, step := range steps {
		if err := writef(stdout, "[%d/%d] %s\n", i+1, len(steps), step.label); err != nil {
			return 1
		}
		if err := runner.Run(ctx, "go", step.args, stdout, stderr); err != nil {
			if writeErr := writef(stderr, "gate failed: %s: %v\n", step.label, err); writeErr != nil {
				return 1
			}
			return 1
		}
	}

	if err := writeLine(stdout, "all gates passed"); err != nil {
		return 1
	}
	return 0
}

func selectSteps(quick bool) []gateStep {
	if !quick {
		return gateSteps
	}
	var out []gateStep
	for _, s := range gateSteps {
		if !s.full {
			out = append(out, s)
		}
	}
	return out
}

func (realRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) error {
	// #nosec G204 -- command and args are fixed repository gate invocations.
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

func writeUsage(w io.Writer) error {
	if err := writeLine(w, "usage: go run ./cmd/linediff-gate [--quick] [--help]"); err != nil {
		return err
	}
	if err := writeLine(w, "runs: vet, tests, race, conformance, fuzz smoke, model self-check"); err != nil {
		return err
	}
	return writeLine(w, "--quick skips the race and fuzz steps")
}

func writeLine(w io.Writer, msg string) error {
	return writef(w, "%s\n", msg)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
