package dut

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/lattice-substrate/linediff/lnerr"
)

// Line protocol spoken between StreamBus and ServeBus. Each request line gets
// exactly one response line:
//
//	W8 <reg> <value>    ok
//	W16 <reg> <value>   ok
//	W32 <reg> <value>   ok
//	R <reg>             <value>
//
// Registers and values are hexadecimal without prefix. A failed request is
// answered with "err <message>".

// StreamBus is a Bus client over a request/response stream.
type StreamBus struct {
	w *bufio.Writer
	r *bufio.Reader
}

// NewStreamBus speaks the line protocol on r and w.
func NewStreamBus(r io.Reader, w io.Writer) *StreamBus {
	return &StreamBus{w: bufio.NewWriter(w), r: bufio.NewReader(r)}
}

func (b *StreamBus) Write8(ctx context.Context, reg Reg, v uint8) error {
	_, err := b.roundTrip(ctx, fmt.Sprintf("W8 %x %x", uint32(reg), v))
	return err
}

func (b *StreamBus) Write16(ctx context.Context, reg Reg, v uint16) error {
	_, err := b.roundTrip(ctx, fmt.Sprintf("W16 %x %x", uint32(reg), v))
	return err
}

func (b *StreamBus) Write32(ctx context.Context, reg Reg, v uint32) error {
	_, err := b.roundTrip(ctx, fmt.Sprintf("W32 %x %x", uint32(reg), v))
	return err
}

func (b *StreamBus) Read32(ctx context.Context, reg Reg) (uint32, error) {
	resp, err := b.roundTrip(ctx, fmt.Sprintf("R %x", uint32(reg)))
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(resp, 16, 32)
	if err != nil {
		return 0, lnerr.Wrap(lnerr.DeviceIO, -1, fmt.Sprintf("read %s: bad response %q", reg, resp), err)
	}
	return uint32(v), nil
}

func (b *StreamBus) roundTrip(ctx context.Context, req string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := b.w.WriteString(req + "\n"); err != nil {
		return "", lnerr.Wrap(lnerr.DeviceIO, -1, "send "+req, err)
	}
	if err := b.w.Flush(); err != nil {
		return "", lnerr.Wrap(lnerr.DeviceIO, -1, "send "+req, err)
	}
	line, err := b.r.ReadString('\n')
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", lnerr.Wrap(lnerr.DeviceIO, -1, "receive response to "+req, err)
	}
	line = strings.TrimSpace(line)
	if msg, ok := strings.CutPrefix(line, "err "); ok {
		return "", lnerr.New(lnerr.DeviceIO, -1, fmt.Sprintf("%s: device: %s", req, msg))
	}
	return line, nil
}

// ProcessBus runs an external simulator and talks to it over its standard
// input and output.
type ProcessBus struct {
	*StreamBus
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
}

// StartProcess launches argv with env merged into the inherited environment.
// The process is killed when ctx is done.
func StartProcess(ctx context.Context, argv []string, env map[string]string) (*ProcessBus, error) {
	if len(argv) == 0 {
		return nil, lnerr.New(lnerr.ConfigInvalid, -1, "device command is empty")
	}
	// #nosec G204 -- argv is the operator-configured device command.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(env) != 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		merged := cmd.Environ()
		for _, k := range keys {
			merged = append(merged, fmt.Sprintf("%s=%s", k, env[k]))
		}
		cmd.Env = merged
	}
	pb := &ProcessBus{cmd: cmd}
	cmd.Stderr = &pb.stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, lnerr.Wrap(lnerr.DeviceIO, -1, "device stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, lnerr.Wrap(lnerr.DeviceIO, -1, "device stdout", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, lnerr.Wrap(lnerr.DeviceIO, -1, fmt.Sprintf("start %q", argv), err)
	}
	pb.stdin = stdin
	pb.StreamBus = NewStreamBus(stdout, stdin)
	return pb, nil
}

// Close ends the session and waits for the process to exit.
func (b *ProcessBus) Close() error {
	_ = b.stdin.Close()
	if err := b.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(b.stderr.String())
		if msg != "" {
			return lnerr.Wrap(lnerr.DeviceIO, -1, "device exited: "+msg, err)
		}
		return lnerr.Wrap(lnerr.DeviceIO, -1, "device exited", err)
	}
	return nil
}

// ServeBus answers line-protocol requests from r against bus until r is
// exhausted or ctx is done.
func ServeBus(ctx context.Context, bus Bus, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	out := bufio.NewWriter(w)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := serveRequest(ctx, bus, sc.Text())
		if err != nil {
			resp = "err " + err.Error()
		}
		if _, err := out.WriteString(resp + "\n"); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if err := out.Flush(); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	return nil
}

var errMalformedRequest = errors.New("malformed request")

func serveRequest(ctx context.Context, bus Bus, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", errMalformedRequest
	}
	reg, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil || Reg(reg) >= registerWindowEnd {
		return "", fmt.Errorf("bad register %q", fields[1])
	}
	if fields[0] == "R" {
		if len(fields) != 2 {
			return "", errMalformedRequest
		}
		v, err := bus.Read32(ctx, Reg(reg))
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(uint64(v), 16), nil
	}
	if len(fields) != 3 {
		return "", errMalformedRequest
	}
	var bits int
	switch fields[0] {
	case "W8":
		bits = 8
	case "W16":
		bits = 16
	case "W32":
		bits = 32
	default:
		return "", fmt.Errorf("unknown command %q", fields[0])
	}
	v, err := strconv.ParseUint(fields[2], 16, bits)
	if err != nil {
		return "", fmt.Errorf("bad value %q", fields[2])
	}
	switch bits {
	case 8:
		err = bus.Write8(ctx, Reg(reg), uint8(v))
	case 16:
		err = bus.Write16(ctx, Reg(reg), uint16(v))
	default:
		err = bus.Write32(ctx, Reg(reg), uint32(v))
	}
	if err != nil {
		return "", err
	}
	return "ok", nil
}
