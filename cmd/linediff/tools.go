package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lattice-substrate/linediff/campaign"
	"github.com/lattice-substrate/linediff/dut"
	"github.com/lattice-substrate/linediff/lnerr"
	"github.com/lattice-substrate/linediff/lnprog"
	"github.com/lattice-substrate/linediff/refsim"
)

// loadProgram reads a persisted program or the program inside a bundle.
func loadProgram(path string) (*lnprog.Program, error) {
	src, _, err := campaign.OpenReplay(path)
	if err != nil {
		return nil, err
	}
	return src.Next()
}

func newTableCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "table FILE",
		Short: "Print the rows the reference interpreter emits for a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			t, err := refsim.RunTable(p)
			if err != nil {
				return err
			}
			for i, row := range t.Rows {
				if err := writef(stdout, "%4d  %s\n", i, row); err != nil {
					return classify(err)
				}
			}
			switch {
			case t.Truncated:
				return classify(writef(stdout, "program runs past the end of its code\n"))
			case t.Rejected:
				return classify(writef(stdout, "program rejected (ILLEGAL)\n"))
			}
			return nil
		},
	}
}

func newLookupCommand(stdout io.Writer) *cobra.Command {
	var file, line uint16
	cmd := &cobra.Command{
		Use:   "lookup FILE --line N [--file N]",
		Short: "Print the address ranges a source line maps to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("line") {
				return usageError("--line is required")
			}
			p, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			t, err := refsim.RunTable(p)
			if err != nil {
				return err
			}
			ranges := refsim.AddressRanges(t.Rows, file, line)
			if len(ranges) == 0 {
				return classify(writef(stdout, "no code for file %d line %d\n", file, line))
			}
			for _, r := range ranges {
				if err := writef(stdout, "0x%08x-0x%08x\n", r.Start, r.End); err != nil {
					return classify(err)
				}
			}
			return nil
		},
	}
	cmd.Flags().Uint16Var(&file, "file", 1, "file index")
	cmd.Flags().Uint16Var(&line, "line", 0, "source line")
	return cmd
}

func newDisasmCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm FILE",
		Short: "Disassemble a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			p, err := loadProgram(args[0])
			if err != nil {
				return err
			}
			h := p.Header
			if err := writef(stdout, "header 0x%08x default_is_stmt=%t line_base=%d line_range=%d opcode_base=%d\n",
				h.Raw(), h.DefaultIsStmt(), h.LineBase(), h.LineRange(), h.OpcodeBase()); err != nil {
				return classify(err)
			}
			ins, derr := lnprog.Disassemble(p)
			for _, in := range ins {
				if err := writef(stdout, "%s\n", in); err != nil {
					return classify(err)
				}
			}
			if derr != nil {
				return classify(writef(stdout, "; %v\n", derr))
			}
			return nil
		},
	}
}

// newServeModelCommand exposes the device model over the bus line protocol,
// so the process device can be exercised without an HDL simulator.
func newServeModelCommand(stdin io.Reader, stdout io.Writer) *cobra.Command {
	var latency int
	cmd := &cobra.Command{
		Use:    "serve-model",
		Short:  "Serve the device model on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if latency < 0 {
				return usageError("--latency must not be negative")
			}
			m := dut.NewModel()
			m.Latency = latency
			if err := dut.ServeBus(cmd.Context(), m, stdin, stdout); err != nil {
				return lnerr.Wrap(lnerr.DeviceIO, -1, "serve model", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&latency, "latency", 0, "busy cycles per code write")
	return cmd
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
