package driver_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

func TestDefaultLayoutIsValid(t *testing.T) {
	if err := driver.DefaultLayout().Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLayoutRejectsNonPowerOfTwoRing(t *testing.T) {
	l := driver.DefaultLayout()
	l.FrameRing = 12
	if err := l.Validate(); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestLayoutRejectsUnsavedFrameTag(t *testing.T) {
	l := driver.DefaultLayout()
	l.SaveFrom = driver.PFrame + 1
	if err := l.Validate(); err == nil {
		t.Error("expected an error when the frame tag is not preserved")
	}
}

func TestNormalizeFlagsShiftedAndNot(t *testing.T) {
	a := driver.NormalizeFlags(driver.FlagJustThis)
	b := driver.NormalizeFlags(driver.FlagJustThis >> 16)
	if a != driver.FlagJustThis || b != driver.FlagJustThis {
		t.Errorf("expected %08x both ways, got %08x and %08x", driver.FlagJustThis, a, b)
	}
	if c := driver.NormalizeFlags(0xffff); c&0x03ff0000 != 0 {
		t.Errorf("flags leaked into the bit-field modifier: %08x", c)
	}
}

func TestBatchWordsStartWithSetFrame(t *testing.T) {
	b := driver.Batch{Frame: 77, Pairs: []driver.Pair{{Addr: 8, Data: 1}, {Addr: 9, Data: 2}}}
	w := b.Words()
	exp := []uint32{driver.CmdSetFrame, 77, 8, 1, 9, 2}
	if diff := cmp.Diff(exp, w); diff != "" {
		t.Errorf("batch words mismatch (-want +got):\n%s", diff)
	}
	buf, _ := b.MarshalBinary()
	var back driver.Batch
	if err := back.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b, back); diff != "" {
		t.Errorf("batch did not survive encoding (-want +got):\n%s", diff)
	}
}

func TestParseBatchNeedsSetFrame(t *testing.T) {
	_, err := driver.ParseBatch([]uint32{8, 1})
	if !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
