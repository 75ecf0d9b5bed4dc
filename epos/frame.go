package epos

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MAXON SERIAL V2 framing: DLE STX OpCode Len Data[Len words] CRC, with every
// DLE after the start sequence doubled on the wire.
const (
	dle = 0x90
	stx = 0x02

	opAnswer      = 0x00
	opReadObject  = 0x60
	opWriteObject = 0x68
)

var (
	ErrCRC     = errors.New("epos: frame CRC mismatch")
	ErrFraming = errors.New("epos: malformed frame")
)

// Frame is one MAXON SERIAL V2 packet. Data is little-endian words.
type Frame struct {
	OpCode byte
	Data   []uint16
}

// crcCCITT is the word-wise CRC-CCITT (0x1021, init 0) used by the EPOS.
func crcCCITT(words []uint16) uint16 {
	var crc uint16
	for _, c := range words {
		for shifter := uint16(0x8000); shifter != 0; shifter >>= 1 {
			carry := crc & 0x8000
			crc <<= 1
			if c&shifter != 0 {
				crc++
			}
			if carry != 0 {
				crc ^= 0x1021
			}
		}
	}
	return crc
}

func (f Frame) checksum() uint16 {
	words := make([]uint16, 0, len(f.Data)+2)
	words = append(words, uint16(f.OpCode)<<8|uint16(len(f.Data)))
	words = append(words, f.Data...)
	words = append(words, 0)
	return crcCCITT(words)
}

// MarshalBinary encodes the frame with DLE stuffing.
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Data) > 0xFF {
		return nil, fmt.Errorf("epos: frame data too long (%d words)", len(f.Data))
	}
	body := make([]byte, 0, 4+2*len(f.Data))
	body = append(body, f.OpCode, byte(len(f.Data)))
	for _, w := range f.Data {
		body = binary.LittleEndian.AppendUint16(body, w)
	}
	body = binary.LittleEndian.AppendUint16(body, f.checksum())

	out := make([]byte, 0, len(body)+4)
	out = append(out, dle, stx)
	for _, b := range body {
		out = append(out, b)
		if b == dle {
			out = append(out, dle)
		}
	}
	return out, nil
}

// ReadFrame reads bytes until a full frame has been decoded. Bytes before the
// DLE STX start sequence are discarded.
func ReadFrame(r io.ByteReader) (Frame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b != dle {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b == stx {
			break
		}
	}

	next := func() (byte, error) {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == dle {
			b2, err := r.ReadByte()
			if err != nil {
				return 0, err
			}
			if b2 != dle {
				return 0, ErrFraming
			}
		}
		return b, nil
	}
	word := func() (uint16, error) {
		lo, err := next()
		if err != nil {
			return 0, err
		}
		hi, err := next()
		if err != nil {
			return 0, err
		}
		return uint16(lo) | uint16(hi)<<8, nil
	}

	op, err := next()
	if err != nil {
		return Frame{}, err
	}
	n, err := next()
	if err != nil {
		return Frame{}, err
	}
	f := Frame{OpCode: op, Data: make([]uint16, n)}
	for i := range f.Data {
		if f.Data[i], err = word(); err != nil {
			return Frame{}, err
		}
	}
	crc, err := word()
	if err != nil {
		return Frame{}, err
	}
	if crc != f.checksum() {
		return f, ErrCRC
	}
	return f, nil
}

func packWords(b []byte) []uint16 {
	if len(b)%2 != 0 {
		b = append(b, 0)
	}
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return out
}

func unpackWords(w []uint16) []byte {
	out := make([]byte, 0, 2*len(w))
	for _, v := range w {
		out = binary.LittleEndian.AppendUint16(out, v)
	}
	return out
}
