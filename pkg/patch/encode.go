// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package patch

import "math"

// Numeric codecs for Setup fields. All are pure functions and satisfy
// decode(encode(v)) == v for every representable v, including the
// saturation boundaries.

// EncodePowerLimit encodes a power limit in watts into the 16-bit
// eighth-watt fixed point the firmware stores, saturating at [min, max]
// watts.
func EncodePowerLimit(watts, min, max int) uint16 {
	if watts < min {
		watts = min
	}
	if watts > max {
		watts = max
	}
	return uint16(watts * 8)
}

// DecodePowerLimit converts the stored eighth-watt value back to watts.
func DecodePowerLimit(raw uint16) int {
	return int(raw) / 8
}

// EncodeVoltageOffset encodes a voltage offset in millivolts into the
// signed 16-bit 1/1024 V fixed point. Negative is undervolt.
func EncodeVoltageOffset(mv int) int16 {
	raw := math.Round(float64(mv) * 1.024)
	if raw > math.MaxInt16 {
		raw = math.MaxInt16
	}
	if raw < math.MinInt16 {
		raw = math.MinInt16
	}
	return int16(raw)
}

// DecodeVoltageOffset converts the stored 1/1024 V value back to
// millivolts.
func DecodeVoltageOffset(raw int16) int {
	return int(math.Round(float64(raw) / 1.024))
}

// Tau is stored as the RAPL time-window byte: bits 0..4 hold the exponent
// z, bits 5..6 the mantissa y, and the window is (1 + y/4) * 2^z seconds.

// EncodeTau encodes a turbo time window in seconds to the nearest
// representable window byte.
func EncodeTau(seconds int) uint8 {
	if seconds < 1 {
		seconds = 1
	}
	best := uint8(0)
	bestDiff := math.MaxFloat64
	for z := 0; z < 32; z++ {
		for y := 0; y < 4; y++ {
			window := (1.0 + float64(y)/4.0) * math.Pow(2, float64(z))
			diff := math.Abs(window - float64(seconds))
			if diff < bestDiff {
				bestDiff = diff
				best = uint8(y<<5 | z)
			}
		}
	}
	return best
}

// DecodeTau converts the stored window byte back to whole seconds.
func DecodeTau(raw uint8) int {
	z := raw & 0x1F
	y := (raw >> 5) & 0x03
	return int((1.0 + float64(y)/4.0) * math.Pow(2, float64(z)))
}
