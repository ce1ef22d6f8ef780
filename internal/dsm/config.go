package dsm

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ProtocolDSM2 is the legacy two-channel variant.
	ProtocolDSM2 Protocol = "dsm2"
	// ProtocolDSMX is the 23-channel pseudo-random variant.
	ProtocolDSMX Protocol = "dsmx"

	MinChannels = 6
	MaxChannels = 12

	MaxTxPower = 7

	DefaultBindCount  = 600
	DefaultPollLimit  = 5000
	DefaultChannelMax = 10000
)

var validProtocols = map[Protocol]struct{}{
	ProtocolDSM2: {},
	ProtocolDSMX: {},
}

type Protocol string

func (p Protocol) String() string {
	return string(p)
}

// IsValid reports whether p is a supported protocol variant.
func (p Protocol) IsValid() bool {
	_, ok := validProtocols[p]
	return ok
}

func (p *Protocol) UnmarshalYAML(value *yaml.Node) error {
	v := Protocol(strings.ToLower(strings.TrimSpace(value.Value)))
	if !v.IsValid() {
		return fmt.Errorf("dsm.Protocol: %w '%s'", ErrUnknownProtocol, value.Value)
	}

	*p = v
	return nil
}

func (p Protocol) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// Config holds the session parameters. It is read once by NewSession and is
// never consulted again.
type Config struct {
	Protocol    Protocol `yaml:"protocol" json:"protocol"`
	NumChannels int      `yaml:"numChannels" json:"numChannels"`
	TxPower     uint8    `yaml:"txPower" json:"txPower"`

	// FixedID is XOR-ed into the manufacturer identity. Zero means unset.
	FixedID uint32 `yaml:"fixedID" json:"fixedID,omitempty"`

	// BindCount is the number of bind steps. Zero selects DefaultBindCount.
	BindCount int  `yaml:"bindCount" json:"bindCount,omitempty"`
	SkipBind  bool `yaml:"skipBind" json:"skipBind,omitempty"`

	// Telemetry enables the receive slot after every A-side transmit pair.
	Telemetry bool  `yaml:"telemetry" json:"telemetry,omitempty"`
	Model     uint8 `yaml:"model" json:"model,omitempty"`

	// PollLimit bounds the number of status reads per check. Zero selects
	// DefaultPollLimit.
	PollLimit int `yaml:"pollLimit" json:"pollLimit,omitempty"`

	// ChannelMax is the magnitude of the symmetric range channel sources
	// report in. Zero selects DefaultChannelMax.
	ChannelMax int32 `yaml:"channelMax" json:"channelMax,omitempty"`
}

// Validate checks the configuration. Out of range values are rejected rather
// than clamped.
func (c *Config) Validate() error {
	if !c.Protocol.IsValid() {
		return &ConfigError{
			msg: fmt.Sprintf("dsm.Config: %s '%s'", ErrUnknownProtocol, c.Protocol),
			err: ErrUnknownProtocol,
		}
	}
	if c.NumChannels < MinChannels || c.NumChannels > MaxChannels {
		return NewConfigError(fmt.Sprintf("dsm.Config: numChannels %d out of range [%d, %d]", c.NumChannels, MinChannels, MaxChannels))
	}
	if c.TxPower > MaxTxPower {
		return NewConfigError(fmt.Sprintf("dsm.Config: txPower %d exceeds %d", c.TxPower, MaxTxPower))
	}
	if c.BindCount < 0 {
		return NewConfigError("dsm.Config: bindCount must not be negative")
	}
	if c.PollLimit < 0 {
		return NewConfigError("dsm.Config: pollLimit must not be negative")
	}
	if c.ChannelMax < 0 {
		return NewConfigError("dsm.Config: channelMax must not be negative")
	}
	return nil
}

func (c *Config) bindCount() int {
	if c.BindCount == 0 {
		return DefaultBindCount
	}
	return c.BindCount
}

func (c *Config) pollLimit() int {
	if c.PollLimit == 0 {
		return DefaultPollLimit
	}
	return c.PollLimit
}

func (c *Config) channelMax() int32 {
	if c.ChannelMax == 0 {
		return DefaultChannelMax
	}
	return c.ChannelMax
}
