// Package mathx holds the small fixed point helpers shared by the tone curve and histogram code
package mathx

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return float64(int64(x/unit+0.5)) * unit
}

// Half adds one half and truncates toward zero, the rounding used by the
// fixed point formats of the camera.  Negative inputs round toward zero.
func Half(x float64) int {
	return int(x + 0.5)
}

// Clamp limits x to [lo, hi]
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// ClampInt limits x to [lo, hi]
func ClampInt(x, lo, hi int) int {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Unit converts a fraction in [0, 1] to 16 bit fixed point, saturating at 0xffff
func Unit(f float64) int {
	return ClampInt(int(65536*f), 0, 0xffff)
}
