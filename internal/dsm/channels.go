package dsm

import "fmt"

const (
	// DSMXChannelCount is the length of the pseudo-random hop sequence.
	DSMXChannelCount = 23
	// DSM2ChannelCount is the length of the legacy hop sequence.
	DSM2ChannelCount = 2

	// BindChannel is the RF channel used while binding.
	BindChannel uint8 = 0x0D
)

// Identity is the 6-byte manufacturer ID read from the transceiver.
type Identity [6]byte

// WithFixedID returns the identity with bytes 0-3 XOR-ed with the
// little-endian bytes of id. A zero id leaves the identity unchanged.
func (id Identity) WithFixedID(fixed uint32) Identity {
	id[0] ^= byte(fixed)
	id[1] ^= byte(fixed >> 8)
	id[2] ^= byte(fixed >> 16)
	id[3] ^= byte(fixed >> 24)
	return id
}

func (id Identity) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", id[0], id[1], id[2], id[3], id[4], id[5])
}

// CRCSeed returns the complement of bytes 0-1 taken as a big-endian word.
func (id Identity) CRCSeed() uint16 {
	return ^(uint16(id[0])<<8 | uint16(id[1]))
}

// Columns returns the start-of-packet and data code columns.
func (id Identity) Columns() (sop, data int) {
	sop = int(id[0]+id[1]+id[2]+2) & 0x07
	return sop, 7 - sop
}

// PNRow returns the spreading-code row for an RF channel.
func PNRow(p Protocol, ch uint8) int {
	if p == ProtocolDSMX {
		return int((ch - 2) % 5)
	}
	return int(ch % 5)
}

// DSMXChannels derives the 23-channel hop sequence. The result only depends on
// id, with 8 channels in [3,27], 7 in [28,51] and 8 in [52,76].
func DSMXChannels(id Identity) [DSMXChannelCount]uint8 {
	var channels [DSMXChannelCount]uint8

	seed := ^(uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3]))
	next := seed

	for idx := 0; idx < DSMXChannelCount; {
		next = next*0x0019660D + 0x3C6EF35F
		ch := uint8((next>>8)%0x49) + 3
		if (uint32(ch)^seed)&0x01 == 0 {
			continue
		}

		var low, mid, high int
		dup := false
		for _, c := range channels[:idx] {
			if c == ch {
				dup = true
				break
			}
			switch {
			case c <= 27:
				low++
			case c <= 51:
				mid++
			default:
				high++
			}
		}
		if dup {
			continue
		}

		if (ch < 28 && low < 8) || (ch >= 28 && ch < 52 && mid < 7) || (ch >= 52 && high < 8) {
			channels[idx] = ch
			idx++
		}
	}

	return channels
}

// LegacyChannels derives the two DSM2 channels. The fixed ID byte 1 is added
// twice to the second channel; receivers in the field expect this.
func LegacyChannels(id Identity, fixed uint32) [DSM2ChannelCount]uint8 {
	f0, f1, f2 := int(byte(fixed)), int(byte(fixed>>8)), int(byte(fixed>>16))
	return [DSM2ChannelCount]uint8{
		uint8((int(id[0])+int(id[2])+int(id[4])+f0+f2)%39 + 1),
		uint8((int(id[1])+int(id[3])+int(id[5])+f1+f1)%40 + 40),
	}
}
