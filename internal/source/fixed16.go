package source

import "math"

// The testbed nodes transmit sensor readings as 16-bit sign-magnitude
// fixed-point values with 6 fractional bits: bit 15 carries the sign, bits
// 14..0 carry |value|*64. The encoding has no NaN or infinity, so encode
// clamps to the representable range.

const (
	fixed16SignBit = 0x8000
	fixed16MagMask = 0x7FFF
	fixed16Scale   = 64.0 // 2^6
)

// Fixed16ToFloat decodes a sign-magnitude fixed-point reading.
func Fixed16ToFloat(v uint16) float64 {
	mag := float64(v&fixed16MagMask) / fixed16Scale
	if v&fixed16SignBit != 0 {
		return -mag
	}
	return mag
}

// FloatToFixed16 encodes a reading, rounding to the nearest representable
// value and clamping the magnitude. Non-finite inputs encode as the maximum
// magnitude so a broken sensor is visible rather than silently zero.
func FloatToFixed16(f float64) uint16 {
	var sign uint16
	if math.Signbit(f) {
		sign = fixed16SignBit
	}
	abs := math.Abs(f)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sign | fixed16MagMask
	}
	mag := math.Round(abs * fixed16Scale)
	if mag > fixed16MagMask {
		mag = fixed16MagMask
	}
	return sign | uint16(mag)
}
