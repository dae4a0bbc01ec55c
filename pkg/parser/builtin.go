package parser

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
)

// Field names produced by the built-in decoders.
const (
	FieldHex    = "hex"
	FieldLength = "length"
	FieldError  = "error"
	FieldValue  = "value"
	FieldMagic  = "magic"
	FieldSeq    = "seq"
	FieldTS     = "ts"
	FieldCRC    = "crc"
)

// Built-in parser ids.
const (
	DummyV1ID = "dummy-v1"
	WaveECGID = "wave-ecg"
	WavePPGID = "wave-ppg"
)

// Structured packet layout: AA 55 | seq | ts u32 LE | value u16 LE | crc.
const (
	DummyPacketLen = 10
	DummyMagic0    = 0xAA
	DummyMagic1    = 0x55
)

// ErrShort is the in-band error marker for truncated structured packets.
const ErrShort = "short"

func registerBuiltins(r *Registry) {
	r.decoders[DefaultID] = decodeHex
	r.decoders[DummyV1ID] = decodeDummyV1
	r.decoders[WaveECGID] = decodeWaveform
	r.decoders[WavePPGID] = decodeWaveform
}

// HexString renders bytes as lowercase two-digit hex separated by single spaces.
func HexString(packet []byte) string {
	if len(packet) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(packet)*3 - 1)
	var pair [2]byte
	for i, c := range packet {
		if i > 0 {
			b.WriteByte(' ')
		}
		hex.Encode(pair[:], []byte{c})
		b.Write(pair[:])
	}
	return b.String()
}

func decodeHex(packet []byte) *Sample {
	return NewSample().
		Set(FieldHex, HexString(packet)).
		Set(FieldLength, len(packet))
}

func decodeWaveform(packet []byte) *Sample {
	if len(packet) < 2 {
		return NewSample().Set(FieldValue, 0)
	}
	return NewSample().Set(FieldValue, int(binary.LittleEndian.Uint16(packet[0:2])))
}

// The trailing byte is extracted but not verified against Checksum.
func decodeDummyV1(packet []byte) *Sample {
	if len(packet) < DummyPacketLen {
		return NewSample().
			Set(FieldError, ErrShort).
			Set(FieldLength, len(packet))
	}
	return NewSample().
		Set(FieldMagic, packet[0] == DummyMagic0 && packet[1] == DummyMagic1).
		Set(FieldSeq, int(packet[2])).
		Set(FieldTS, binary.LittleEndian.Uint32(packet[3:7])).
		Set(FieldValue, int(binary.LittleEndian.Uint16(packet[7:9]))).
		Set(FieldCRC, int(packet[9]))
}

// Checksum returns the low byte of the sum of the first nine bytes of a
// structured packet.
func Checksum(packet []byte) byte {
	var sum byte
	for i := 0; i < len(packet) && i < DummyPacketLen-1; i++ {
		sum += packet[i]
	}
	return sum
}

// EncodeDummyV1 builds a structured packet with a valid checksum.
func EncodeDummyV1(seq uint8, ts uint32, value uint16) []byte {
	p := make([]byte, DummyPacketLen)
	p[0], p[1], p[2] = DummyMagic0, DummyMagic1, seq
	binary.LittleEndian.PutUint32(p[3:7], ts)
	binary.LittleEndian.PutUint16(p[7:9], value)
	p[9] = Checksum(p)
	return p
}

// EncodeWaveform builds a 2-byte little-endian waveform packet.
func EncodeWaveform(value uint16) []byte {
	p := make([]byte, 2)
	binary.LittleEndian.PutUint16(p, value)
	return p
}
