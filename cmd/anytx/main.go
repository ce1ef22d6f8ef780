//go:build tinygo

// Command anytx is the transmitter firmware. It drives a CYRF6936 on SPI0
// and encodes four gimbal axes read from the analog inputs.
package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	"github.com/anytx/dsmlink/internal/dsm"
	"github.com/anytx/dsmlink/internal/link"
	"github.com/anytx/dsmlink/internal/radio/cyrf6936"
)

const (
	spiFrequency = 4 * machine.MHz

	csPin    = machine.D10
	resetPin = machine.D9
	bindPin  = machine.D2
	ledPin   = machine.LED
)

var sticks = [...]machine.Pin{machine.A0, machine.A1, machine.A2, machine.A3}

// adcSticks maps the analog inputs onto [-DefaultChannelMax, DefaultChannelMax].
// Channels without an input sit at centre.
type adcSticks [len(sticks)]machine.ADC

func (s *adcSticks) ChannelValue(ch int) int32 {
	if ch < 0 || ch >= len(s) {
		return 0
	}
	v := int32(s[ch].Get()) - 0x8000
	return v * dsm.DefaultChannelMax / 0x8000
}

func main() {
	logger := slog.New(slog.NewTextHandler(machine.Serial, &slog.HandlerOptions{Level: slog.LevelInfo}))

	machine.InitADC()
	var src adcSticks
	for i, pin := range sticks {
		src[i] = machine.ADC{Pin: pin}
		src[i].Configure(machine.ADCConfig{})
	}

	for _, pin := range []machine.Pin{csPin, resetPin, ledPin} {
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	bindPin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	bus := machine.SPI0
	if err := bus.Configure(machine.SPIConfig{Frequency: spiFrequency, Mode: 0}); err != nil {
		halt(logger, "configuring SPI", err)
	}

	radio := cyrf6936.New(bus, csPin, cyrf6936.WithResetPin(resetPin), cyrf6936.WithLogger(logger))

	// holding the bind button at power up runs the bind phase
	config := dsm.Config{
		Protocol:    dsm.ProtocolDSMX,
		NumChannels: 7,
		TxPower:     7,
		Telemetry:   true,
		SkipBind:    bindPin.Get(),
	}

	runner, err := link.New(config, radio, &src, link.WithLogger(logger))
	if err != nil {
		halt(logger, "creating link", err)
	}
	logger.Info("link ready",
		slog.String("identity", runner.Session().Identity().String()),
		slog.Bool("bind", !config.SkipBind))

	events := make(chan link.Event, 16)
	go func() {
		for ev := range events {
			switch ev.Kind {
			case link.EventFault:
				logger.Warn("link fault", slog.String("phase", ev.Fault.Phase.String()), slog.String("error", ev.Fault.Err.Error()))
			case link.EventHop:
				ledPin.Set(ev.Hop.Seq%64 < 32)
			}
		}
	}()

	if err = runner.Run(context.Background(), events); err != nil {
		halt(logger, "link stopped", err)
	}
}

func halt(logger *slog.Logger, msg string, err error) {
	for {
		logger.Error(msg, slog.String("error", err.Error()))
		time.Sleep(time.Second)
	}
}
