package campaign

import (
	"context"
	"fmt"

	"github.com/lattice-substrate/linediff/dut"
)

// DeviceFactory opens one device per worker. The returned closer releases
// the device and reports how it shut down.
type DeviceFactory func(ctx context.Context) (dut.Device, func() error, error)

func noClose() error { return nil }

// NewDeviceFactory builds the factory selected by cfg.
func NewDeviceFactory(cfg *Config) (DeviceFactory, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	budget := cfg.PollBudget
	switch cfg.Device {
	case DeviceModel:
		latency := cfg.Latency
		return func(context.Context) (dut.Device, func() error, error) {
			m := dut.NewModel()
			m.Latency = latency
			return dut.NewRegisterAdapter(m, budget), noClose, nil
		}, nil
	case DeviceReference:
		return func(context.Context) (dut.Device, func() error, error) {
			return dut.NewReferenceDevice(), noClose, nil
		}, nil
	case DeviceProcess:
		argv := append([]string(nil), cfg.DeviceCommand...)
		env := cfg.DeviceEnv
		return func(ctx context.Context) (dut.Device, func() error, error) {
			pb, err := dut.StartProcess(ctx, argv, env)
			if err != nil {
				return nil, nil, err
			}
			return dut.NewRegisterAdapter(pb, budget), pb.Close, nil
		}, nil
	default:
		return nil, invalid(fmt.Sprintf("unknown device %q", cfg.Device))
	}
}

// DeviceName is the label recorded in reports for cfg's device.
func DeviceName(cfg *Config) string {
	if cfg.Device == DeviceProcess && len(cfg.DeviceCommand) > 0 {
		return fmt.Sprintf("%s:%s", cfg.Device, cfg.DeviceCommand[0])
	}
	return string(cfg.Device)
}
