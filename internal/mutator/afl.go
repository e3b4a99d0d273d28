package mutator

import (
	"encoding/binary"

	"github.com/fluxfuzzer/hfgo/pkg/types"
)

// AFL-inspired interesting values: AFL's classic boundary constants.
var (
	interesting8 = []int8{-128, -1, 0, 1, 16, 32, 64, 100, 127}

	interesting16 = []int16{-32768, -129, 128, 255, 256, 512, 1000, 1024, 4096, 32767}

	interesting32 = []int32{
		-2147483648, -100663046, -32769, 32768,
		65535, 65536, 100663045, 2147483647,
	}
)

// bitFlipFamily flips 1-4 consecutive bits at a random position per
// Apply call, with no notion of content type.
type bitFlipFamily struct{}

func (bitFlipFamily) Name() string             { return "bitflip" }
func (bitFlipFamily) Type() types.MutationType { return types.BitFlip }

func (bitFlipFamily) Apply(r *rng, buf []byte, budget int) {
	if len(buf) == 0 {
		return
	}
	bitPos := r.Intn(len(buf) * 8)
	flipBits := 1 + r.Intn(4)
	for i := 0; i < flipBits && i < budget*8; i++ {
		bp := (bitPos + i) % (len(buf) * 8)
		byteIdx := bp / 8
		bit := uint(bp % 8)
		buf[byteIdx] ^= 1 << bit
	}
}

// byteFlipFamily XORs 1-4 consecutive bytes against 0xFF.
type byteFlipFamily struct{}

func (byteFlipFamily) Name() string             { return "byteflip" }
func (byteFlipFamily) Type() types.MutationType { return types.ByteFlip }

func (byteFlipFamily) Apply(r *rng, buf []byte, budget int) {
	if len(buf) == 0 {
		return
	}
	pos := r.Intn(len(buf))
	n := budget
	if n > len(buf)-pos {
		n = len(buf) - pos
	}
	for i := 0; i < n; i++ {
		buf[pos+i] ^= 0xFF
	}
}

// arithmeticFamily adds a small signed delta to an 8/16/32-bit integer
// read at a random position, little-endian, matching AFL's arith8/16/32.
type arithmeticFamily struct{}

func (arithmeticFamily) Name() string             { return "arithmetic" }
func (arithmeticFamily) Type() types.MutationType { return types.Arithmetic }

func (arithmeticFamily) Apply(r *rng, buf []byte, budget int) {
	if len(buf) == 0 {
		return
	}
	delta := int32(r.Intn(35) - 17) // AFL's ARITH_MAX is 35, centered on zero
	switch {
	case len(buf) >= 4 && budget >= 4:
		pos := r.Intn(len(buf) - 3)
		v := binary.LittleEndian.Uint32(buf[pos:])
		binary.LittleEndian.PutUint32(buf[pos:], uint32(int32(v)+delta))
	case len(buf) >= 2:
		pos := r.Intn(len(buf) - 1)
		v := binary.LittleEndian.Uint16(buf[pos:])
		binary.LittleEndian.PutUint16(buf[pos:], uint16(int16(v)+int16(delta)))
	default:
		pos := r.Intn(len(buf))
		buf[pos] = byte(int8(buf[pos]) + int8(delta))
	}
}

// interestingFamily substitutes an AFL boundary-value constant at a
// random position, sized to whatever width fits in the remaining
// buffer.
type interestingFamily struct{}

func (interestingFamily) Name() string             { return "interesting" }
func (interestingFamily) Type() types.MutationType { return types.InterestingValue }

func (interestingFamily) Apply(r *rng, buf []byte, budget int) {
	if len(buf) == 0 {
		return
	}
	switch {
	case len(buf) >= 4 && budget >= 4:
		pos := r.Intn(len(buf) - 3)
		v := interesting32[r.Intn(len(interesting32))]
		binary.LittleEndian.PutUint32(buf[pos:], uint32(v))
	case len(buf) >= 2:
		pos := r.Intn(len(buf) - 1)
		v := interesting16[r.Intn(len(interesting16))]
		binary.LittleEndian.PutUint16(buf[pos:], uint16(v))
	default:
		pos := r.Intn(len(buf))
		buf[pos] = byte(interesting8[r.Intn(len(interesting8))])
	}
}
