package value

import (
	"math"

	"github.com/x448/float16"
)

// Float16ToFloat32 widens IEEE half-precision bits.
func Float16ToFloat32(bits uint16) float32 {
	return float16.Frombits(bits).Float32()
}

// Float32ToFloat16 rounds f to the nearest IEEE half-precision value.
func Float32ToFloat16(f float32) uint16 {
	return float16.Fromfloat32(f).Bits()
}

// BFloat16ToFloat32 widens brain-float bits.
func BFloat16ToFloat32(bits uint16) float32 {
	return math.Float32frombits(uint32(bits) << 16)
}

// Float32ToBFloat16 rounds f to the nearest bfloat16, ties to even.
func Float32ToBFloat16(f float32) uint16 {
	u := math.Float32bits(f)
	if f != f {
		return uint16(u>>16) | 0x0040 // keep NaN quiet
	}
	u += 0x7FFF + ((u >> 16) & 1)
	return uint16(u >> 16)
}
