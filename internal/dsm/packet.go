package dsm

import "encoding/binary"

const (
	// PacketSize is the length of every bind, data and telemetry frame.
	PacketSize = 16

	// SlotsPerPacket is the number of channel slots in a data packet.
	SlotsPerPacket = 7

	unmapped    byte   = 0xFF
	emptySlot   uint16 = 0xFFFF
	upperFlag   uint16 = 0x8000
	bindSumInit uint16 = 384 - 0x10
)

// Packet is a single 16-byte frame.
type Packet [PacketSize]byte

// channelMaps lists, per channel count, which source channel feeds each slot.
// The first 7 entries fill the A half, the next 7 the B half.
var channelMaps = map[int][]byte{
	4:  {0, 1, 2, 3, 0xFF, 0xFF, 0xFF},
	5:  {0, 1, 2, 3, 4, 0xFF, 0xFF},
	6:  {1, 5, 2, 3, 0, 4, 0xFF},
	7:  {1, 5, 2, 4, 3, 6, 0},
	8:  {1, 5, 2, 3, 6, 0xFF, 0xFF, 4, 0, 7, 0xFF, 0xFF, 0xFF, 0xFF},
	9:  {3, 2, 1, 5, 0, 4, 6, 7, 8, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
	10: {3, 2, 1, 5, 0, 4, 6, 7, 8, 9, 0xFF, 0xFF, 0xFF, 0xFF},
	11: {3, 2, 1, 5, 0, 4, 6, 7, 8, 9, 10, 0xFF, 0xFF, 0xFF},
	12: {3, 2, 1, 5, 0, 4, 6, 7, 8, 9, 10, 11, 0xFF, 0xFF},
}

// ChannelMap returns the slot mapping for count channels, or nil when the
// count has no mapping.
func ChannelMap(count int) []byte {
	return channelMaps[count]
}

// SlotBits returns the width of the value field in a data slot.
func SlotBits(p Protocol) int {
	if p == ProtocolDSMX {
		return 11
	}
	return 10
}

// header returns the two identity bytes leading bind and data packets.
func header(p Protocol, id Identity, model uint8) (byte, byte) {
	if p == ProtocolDSMX {
		return id[2], id[3] + model
	}
	return 0xFF ^ id[2], (0xFF ^ id[3]) + model
}

// BuildBindPacket encodes the session announcement sent during binding.
func BuildBindPacket(pkt *Packet, p Protocol, id Identity, model uint8, numChannels int) {
	crc := id.CRCSeed()
	pkt[0] = byte(crc >> 8)
	pkt[1] = byte(crc)
	pkt[2], pkt[3] = header(p, id, model)
	copy(pkt[4:8], pkt[0:4])

	sum := bindSumInit
	for _, b := range pkt[:8] {
		sum += uint16(b)
	}
	binary.BigEndian.PutUint16(pkt[8:10], sum)

	pkt[10] = 0x01
	pkt[11] = byte(numChannels)
	switch {
	case p == ProtocolDSMX:
		pkt[12] = 0xB2
	case numChannels < 8:
		pkt[12] = 0x01
	default:
		pkt[12] = 0x02
	}
	pkt[13] = 0x00

	for _, b := range pkt[8:14] {
		sum += uint16(b)
	}
	binary.BigEndian.PutUint16(pkt[14:16], sum)
}

// VerifyBindChecksums recomputes both running sums of a bind packet.
func VerifyBindChecksums(pkt *Packet) bool {
	sum := bindSumInit
	for _, b := range pkt[:8] {
		sum += uint16(b)
	}
	if binary.BigEndian.Uint16(pkt[8:10]) != sum {
		return false
	}
	for _, b := range pkt[8:14] {
		sum += uint16(b)
	}
	return binary.BigEndian.Uint16(pkt[14:16]) == sum
}

// BuildDataPacket encodes 7 channel slots for one half of the channel map.
// Values outside [-channelMax, channelMax] are clamped to the field range.
func BuildDataPacket(pkt *Packet, p Protocol, id Identity, model uint8, chmap []byte, upper bool, channelMax int32, value func(ch int) int32) {
	pkt[0], pkt[1] = header(p, id, model)

	bits := SlotBits(p)
	maxField := int64(1) << bits
	pct100 := maxField * 100 / 150

	base := 0
	if upper {
		base = SlotsPerPacket
	}

	for i := 0; i < SlotsPerPacket; i++ {
		word := emptySlot

		var idx byte = unmapped
		if base+i < len(chmap) {
			idx = chmap[base+i]
		}
		if idx != unmapped {
			v := int64(value(int(idx)))*(pct100/2)/int64(channelMax) + maxField/2
			if v >= maxField {
				v = maxField - 1
			} else if v < 0 {
				v = 0
			}

			word = uint16(v) | uint16(idx)<<bits
			if upper && i == 0 {
				word |= upperFlag
			}
		}

		binary.BigEndian.PutUint16(pkt[2+i*2:], word)
	}
}

// DecodeSlot reverses the data slot encoding. ok is false for empty slots.
func DecodeSlot(word uint16, p Protocol, channelMax int32) (index uint8, value int32, upper, ok bool) {
	if word == emptySlot {
		return 0, 0, false, false
	}

	bits := SlotBits(p)
	maxField := int64(1) << bits
	pct100 := maxField * 100 / 150

	upper = word&upperFlag != 0
	word &^= upperFlag
	index = uint8(word >> bits)
	field := int64(word) & (maxField - 1)

	value = int32((field - maxField/2) * int64(channelMax) / (pct100 / 2))
	return index, value, upper, true
}
