// Package util contains misc internal utilities.
package util

import (
	"fmt"
	"strconv"
	"strings"
)

// Latest is the frame number meaning "whatever frame is current"
const Latest = 0xffffffff

// ParseUint parses a decimal or 0x prefixed hexadecimal number of at most
// bits bits
func ParseUint(s string, bits int) (uint64, error) {
	s = strings.TrimSpace(s)
	return strconv.ParseUint(s, 0, bits)
}

// ParseFrame parses a frame number.  An empty string, "latest" and "-1"
// all give Latest
func ParseFrame(s string) (uint32, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "latest", "-1":
		return Latest, nil
	}
	u, err := ParseUint(s, 32)
	if err != nil {
		return 0, fmt.Errorf("frame %q: %w", s, err)
	}
	return uint32(u), nil
}

// ParseHash16 parses a gamma table hash, hex with or without a 0x prefix
func ParseHash16(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	u, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("hash %q: %w", s, err)
	}
	return uint16(u), nil
}

// Uint32SliceToCSV converts a slice of uint32s to CSV formatted data.
// e.g., []uint32{1,2,3} => "1,2,3"
func Uint32SliceToCSV(us []uint32) string {
	s := make([]string, len(us))
	for i, v := range us {
		s[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(s, ",")
}

// GetBit returns the value of a given bit in a word
func GetBit(w uint32, bitIndex uint) bool {
	return w&(1<<bitIndex) != 0
}

// SetBit sets a bit in a word
func SetBit(w uint32, bitIndex uint, value bool) uint32 {
	if value {
		return w | 1<<bitIndex
	}
	return w &^ (1 << bitIndex)
}
