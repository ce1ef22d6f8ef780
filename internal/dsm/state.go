package dsm

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/anytx/dsmlink/internal/radio/cyrf6936"
	"github.com/anytx/dsmlink/internal/telemetry"
)

const (
	bindWriteDelay     = 8500 * time.Microsecond
	bindCheckDelay     = 1500 * time.Microsecond
	channelSelectDelay = 10000 * time.Microsecond

	interSlotDelay   = 4010 * time.Microsecond
	writeDelay       = 1550 * time.Microsecond
	readDelay        = 400 * time.Microsecond
	frameDelay       = 11000 * time.Microsecond
	foldedFrameDelay = 22000 * time.Microsecond

	// RecoveryDelay is returned together with a fault; the next step
	// reprograms data mode from channel-select.
	RecoveryDelay = channelSelectDelay
)

// Phase is the step the state machine performs on its next invocation.
type Phase uint8

const (
	PhaseBind Phase = iota
	PhaseChannelSelect
	PhaseWrite1
	PhaseCheck1
	PhaseWrite2
	PhaseCheck2
	PhaseRead
)

var phaseNames = [...]string{
	PhaseBind:          "bind",
	PhaseChannelSelect: "channel-select",
	PhaseWrite1:        "write-1",
	PhaseCheck1:        "check-1",
	PhaseWrite2:        "write-2",
	PhaseCheck2:        "check-2",
	PhaseRead:          "read",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// SubLink selects which half of the channel map a transmit pair carries.
type SubLink uint8

const (
	SubLinkA SubLink = iota
	SubLinkB
)

func (s SubLink) String() string {
	if s == SubLinkB {
		return "B"
	}
	return "A"
}

// State is the protocol state. BindStep counts completed bind steps and is
// only meaningful in PhaseBind.
type State struct {
	Phase    Phase
	SubLink  SubLink
	BindStep int
}

func (s State) String() string {
	if s.Phase == PhaseBind {
		return fmt.Sprintf("bind(%d)", s.BindStep)
	}
	if s.Phase == PhaseChannelSelect {
		return s.Phase.String()
	}
	return s.Phase.String() + "/" + s.SubLink.String()
}

// Step performs the action for the current state and returns how long the
// caller must wait before calling Step again.
//
// A non-nil error is a *RuntimeError. The returned delay is still valid and
// the session resumes from channel-select on the next call.
func (s *Session) Step() (time.Duration, error) {
	phase := s.state.Phase

	var delay time.Duration
	switch phase {
	case PhaseBind:
		delay = s.stepBind()
	case PhaseChannelSelect:
		delay = s.stepChannelSelect()
	case PhaseWrite1, PhaseWrite2:
		delay = s.stepWrite()
	case PhaseCheck1:
		delay = s.stepCheck1()
	case PhaseCheck2:
		delay = s.stepCheck2()
	case PhaseRead:
		delay = s.stepRead()
	default:
		s.state = State{Phase: PhaseChannelSelect}
		return RecoveryDelay, newRuntimeError(phase, errors.New("invalid state"))
	}

	if err := s.radio.takeErr(); err != nil {
		return s.fault(phase, err)
	}
	return delay, nil
}

func (s *Session) fault(phase Phase, err error) (time.Duration, error) {
	rerr := newRuntimeError(phase, err)
	s.faults++

	if phase == PhaseBind {
		// Bind packets are idempotent, keep counting down.
		s.logger.Warn("bind step failed", slog.String("error", err.Error()))
		return bindCheckDelay, rerr
	}

	s.logger.Warn("hop aborted, restarting from channel select",
		slog.String("phase", phase.String()),
		slog.String("error", err.Error()))
	s.state = State{Phase: PhaseChannelSelect}
	return RecoveryDelay, rerr
}

func (s *Session) stepBind() time.Duration {
	s.state.BindStep++
	done := s.state.BindStep >= s.bindCount

	var delay time.Duration
	if s.state.BindStep&1 == 1 {
		s.radio.writePacket(s.packet[:])
		delay = bindWriteDelay
	} else {
		s.radio.readRegister(cyrf6936.RegTxIRQStatus)
		delay = bindCheckDelay
	}

	if done {
		s.logger.Info("bind complete", slog.Int("steps", s.state.BindStep))
		s.state = State{Phase: PhaseChannelSelect}
	}
	return delay
}

func (s *Session) stepChannelSelect() time.Duration {
	s.radio.writeRegisters(dataRegisters)
	s.radio.setTxMode(true)
	s.cursor = Cursor{}
	s.setSOPDataCRC(SubLinkA)
	s.state = State{Phase: PhaseWrite1, SubLink: SubLinkA}
	return channelSelectDelay
}

func (s *Session) stepWrite() time.Duration {
	if s.state.Phase == PhaseWrite1 {
		BuildDataPacket(&s.packet, s.cfg.Protocol, s.identity, s.cfg.Model, s.chmap,
			s.state.SubLink == SubLinkB, s.channelMax, s.src.ChannelValue)
	}
	s.radio.writePacket(s.packet[:])
	s.state.Phase++
	return writeDelay
}

func (s *Session) stepCheck1() time.Duration {
	if !s.pollStatus(cyrf6936.RegTxIRQStatus, cyrf6936.TxComplete) {
		return 0
	}
	s.setSOPDataCRC(s.state.SubLink)
	s.state.Phase = PhaseWrite2
	return interSlotDelay - writeDelay
}

func (s *Session) stepCheck2() time.Duration {
	if !s.pollStatus(cyrf6936.RegTxIRQStatus, cyrf6936.TxComplete) {
		return 0
	}
	sub := s.state.SubLink
	if sub == SubLinkA {
		s.radio.writeRegister(cyrf6936.RegTxCfg, txPowerBase|s.cfg.TxPower)
	}

	if s.cfg.Telemetry {
		s.state.Phase = PhaseRead
		s.radio.setTxMode(false)
		s.armReceive()
		return frameDelay - interSlotDelay - writeDelay - readDelay
	}

	if sub == SubLinkA && s.folded() {
		s.setSOPDataCRC(SubLinkA)
		s.state = State{Phase: PhaseWrite1, SubLink: SubLinkA}
		return foldedFrameDelay - interSlotDelay - writeDelay
	}

	next := SubLinkA
	if sub == SubLinkA {
		next = SubLinkB
	}
	s.setSOPDataCRC(next)
	s.state = State{Phase: PhaseWrite1, SubLink: next}
	return frameDelay - interSlotDelay - writeDelay
}

func (s *Session) stepRead() time.Duration {
	if s.radio.readRegister(cyrf6936.RegRxIRQStatus)&cyrf6936.RxComplete != 0 {
		var frame Packet
		s.radio.readPacket(frame[:])
		if s.radio.err == nil {
			s.handleTelemetry(frame)
		}
	}

	if s.state.SubLink == SubLinkA && s.folded() {
		s.state.SubLink = SubLinkB
		s.armReceive()
		return frameDelay
	}

	next := SubLinkA
	if s.state.SubLink == SubLinkA {
		next = SubLinkB
	}
	s.radio.setTxMode(true)
	s.setSOPDataCRC(next)
	s.state = State{Phase: PhaseWrite1, SubLink: next}
	return readDelay
}

// folded reports whether the B half is skipped because every channel fits in
// a single packet.
func (s *Session) folded() bool {
	return s.numChannels < 8
}

func (s *Session) armReceive() {
	s.radio.writeRegister(cyrf6936.RegRxIRQStatus, rxArm)
	s.radio.writeRegister(cyrf6936.RegRxCtrl, rxStart)
}

// pollStatus reads reg until bit is set or the poll limit is reached. On
// timeout it records ErrTransmitTimeout on the radio.
func (s *Session) pollStatus(reg cyrf6936.Register, bit byte) bool {
	for i := 0; i < s.pollLimit; i++ {
		v := s.radio.readRegister(reg)
		if s.radio.err != nil {
			return false
		}
		if v&bit != 0 {
			return true
		}
	}
	s.radio.fail(fmt.Sprintf("polling register 0x%02X", byte(reg)), ErrTransmitTimeout)
	return false
}

func (s *Session) handleTelemetry(frame Packet) {
	t, ok := telemetry.Decode(frame[:], s.now())
	if !ok {
		s.logger.Debug("ignoring telemetry frame", slog.Int("tag", int(frame[0])))
		return
	}
	if s.onTelemetry != nil {
		s.onTelemetry(t)
	}
}
