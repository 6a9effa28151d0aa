package framepars

import (
	"fmt"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

// Address is a composite parameter address:
//
//	bits  0..15 base index
//	bits 16..20 bit-field offset
//	bits 21..25 bit-field width, 0 = full word
//	bits 26..31 write flags
type Address uint32

const (
	// BaseMask selects the base index
	BaseMask = 0x0000ffff

	// ModifierMask selects the bit-field width and offset
	ModifierMask = 0x03ff0000

	offsetShift = 16
	widthShift  = 21
)

// BitField returns the modifier bits selecting width bits at offset
func BitField(width, offset int) (Address, error) {
	if width < 1 || width > 31 || offset < 0 || offset > 31 || width+offset > 32 {
		return 0, fmt.Errorf("%w: bit-field width %d offset %d", camerr.ErrInvalidArgument, width, offset)
	}
	return Address(width<<widthShift | offset<<offsetShift), nil
}

// Base is the base index
func (a Address) Base() int {
	return int(a & BaseMask)
}

// Width is the bit-field width, 0 for a full word
func (a Address) Width() int {
	return int(a>>widthShift) & 0x1f
}

// Offset is the bit-field offset
func (a Address) Offset() int {
	return int(a>>offsetShift) & 0x1f
}

// HasField is true if the address selects a bit-field
func (a Address) HasField() bool {
	return a&ModifierMask != 0
}

// Flags are the administrative flag bits
func (a Address) Flags() uint32 {
	return uint32(a) & driver.FlagMask
}

// IsCommand is true for driver directives
func (a Address) IsCommand() bool {
	return a.Base()&0xff00 == driver.CommandBase
}

func (a Address) mask() uint32 {
	w := a.Width()
	if w == 0 {
		return 0xffffffff
	}
	return 1<<uint(w) - 1
}

// Field extracts the selected bits of word
func (a Address) Field(word uint32) uint32 {
	if !a.HasField() {
		return word
	}
	return (word >> uint(a.Offset())) & a.mask()
}

// Merge inserts v into the selected bits of word
func (a Address) Merge(word, v uint32) uint32 {
	if !a.HasField() {
		return v
	}
	m := a.mask() << uint(a.Offset())
	return word&^m | (v<<uint(a.Offset()))&m
}

func (a Address) String() string {
	if a.HasField() {
		return fmt.Sprintf("0x%04x[%d:%d]", a.Base(), a.Offset()+a.Width()-1, a.Offset())
	}
	return fmt.Sprintf("0x%04x", a.Base())
}

// IsGlobal is true if a addresses a global parameter of a camera with layout l
func IsGlobal(l driver.Layout, a Address) bool {
	b := a.Base()
	return !a.IsCommand() && b >= l.GlobalsBase && b < l.GlobalsBase+l.NumGlobals
}

// IsFrame is true if a addresses a frame parameter
func IsFrame(l driver.Layout, a Address) bool {
	return !a.IsCommand() && a.Base() < l.FramePars
}
