package framepars

import (
	"fmt"
	"strings"

	"github.jpl.nasa.gov/bdube/golab-elphel/camerr"
	"github.jpl.nasa.gov/bdube/golab-elphel/driver"
)

// Resolver turns symbolic names into composite addresses.
//
// Besides exact names it understands three modifiers, parsed right to left:
//
//	NAME__B     sub-channel B (fallback: the plain address if NAME has no banks)
//	NAME__b     sub-channel b (strict: fail if NAME has no banks)
//	NAME__0816  bit-field 8 bits wide at offset 16
//	NAME3       NAME + 3
//
// A Resolver is safe for concurrent use as long as its tables are not modified.
type Resolver struct {
	Names  Names
	Index  ChannelIndex
	Layout driver.Layout
}

// NewResolver returns a resolver over the built-in tables
func NewResolver() *Resolver {
	return &Resolver{Names: DefaultNames(), Index: DefaultChannelIndex(), Layout: driver.DefaultLayout()}
}

// channel is a parsed sub-channel suffix
type channel struct {
	n      int
	strict bool
}

// splitChannel strips a __A/__B/__C (or lowercase) suffix
func splitChannel(name string) (string, *channel) {
	l := len(name)
	if l <= 3 || name[l-3:l-1] != "__" {
		return name, nil
	}
	c := name[l-1]
	switch {
	case c >= 'A' && c <= 'C':
		return name[:l-3], &channel{n: int(c - 'A')}
	case c >= 'a' && c <= 'c':
		return name[:l-3], &channel{n: int(c - 'a'), strict: true}
	}
	return name, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// splitNumber strips a __WWBB bit-field tail and then a trailing decimal number.
// The returned addend carries both.  ok is false if neither was present.
func splitNumber(name string) (string, Address, bool, error) {
	var (
		add Address
		ok  bool
	)
	l := len(name)
	if l > 6 && name[l-6:l-4] == "__" && isDigit(name[l-4]) && isDigit(name[l-3]) && isDigit(name[l-2]) && isDigit(name[l-1]) {
		w := int(name[l-4]-'0')*10 + int(name[l-3]-'0')
		o := int(name[l-2]-'0')*10 + int(name[l-1]-'0')
		bf, err := BitField(w, o)
		if err != nil {
			return name, 0, false, err
		}
		add = bf
		name = name[:l-6]
		ok = true
	}
	i := len(name)
	for i > 1 && isDigit(name[i-1]) {
		i--
	}
	if i < len(name) {
		n := 0
		for _, c := range name[i:] {
			n = n*10 + int(c-'0')
			if n > BaseMask {
				return name, 0, false, fmt.Errorf("%w: index suffix of %s too large", camerr.ErrInvalidAddress, name)
			}
		}
		add += Address(n)
		name = name[:i]
		ok = true
	}
	return name, add, ok, nil
}

// Resolve returns the composite address of name
func (r *Resolver) Resolve(name string) (Address, error) {
	if a, ok := r.Names.Lookup(name); ok {
		return a, nil
	}
	stem, ch := splitChannel(name)
	stem, add, hasNum, err := splitNumber(stem)
	if err != nil {
		return 0, err
	}
	if !hasNum && ch == nil {
		return 0, fmt.Errorf("%w: parameter %q", camerr.ErrNotFound, name)
	}
	c, ok := r.Names.Lookup(stem)
	if !ok {
		return 0, fmt.Errorf("%w: parameter %q", camerr.ErrNotFound, name)
	}
	// existing modifiers are dropped, never added to
	a := c&^ModifierMask + add
	if int(a&BaseMask) < int(c&BaseMask) {
		return 0, fmt.Errorf("%w: %q overflows the base index", camerr.ErrInvalidAddress, name)
	}
	if ch != nil {
		return r.ApplyChannel(a, ch.n, ch.strict)
	}
	return a, nil
}

// ApplyChannel redirects a channel agnostic address to sub-channel ch.  If the
// base has no per-channel bank, strict mode fails and fallback mode returns a
// unchanged.  Modifier and flag bits are preserved.
func (r *Resolver) ApplyChannel(a Address, ch int, strict bool) (Address, error) {
	if ch < 0 || ch >= r.Layout.SubChannels {
		return 0, fmt.Errorf("%w: sub-channel %d not in [0, %d)", camerr.ErrInvalidChannel, ch, r.Layout.SubChannels)
	}
	base := a.Base()
	if base >= r.Layout.FramePars {
		return 0, fmt.Errorf("%w: %v is not a frame parameter", camerr.ErrInvalidAddress, a)
	}
	bank := 0
	if r.Index != nil {
		bank = r.Index.Bank(base)
	}
	if bank == 0 {
		if strict {
			return 0, fmt.Errorf("%w: %v has no per-channel variants", camerr.ErrInvalidChannel, a)
		}
		return a, nil
	}
	idx := (bank + ch) & BaseMask
	if idx >= r.Layout.FramePars {
		return 0, fmt.Errorf("%w: bank %d + %d", camerr.ErrInvalidAddress, bank, ch)
	}
	return a&^BaseMask | Address(idx), nil
}

// Name returns a symbolic name for a, or a hex rendering if there is none
func (r *Resolver) Name(a Address) string {
	if n, ok := r.Names.Name(a); ok {
		return n
	}
	if n, ok := r.Names.Name(a &^ (ModifierMask | driver.FlagMask)); ok {
		if a.HasField() {
			return fmt.Sprintf("%s__%02d%02d", n, a.Width(), a.Offset())
		}
		return n
	}
	return a.String()
}

// ResolveAll resolves every name, returning the resolved addresses and the
// names that failed, in input order
func (r *Resolver) ResolveAll(names []string) (map[string]Address, []string) {
	out := make(map[string]Address, len(names))
	var bad []string
	for _, n := range names {
		a, err := r.Resolve(strings.TrimSpace(n))
		if err != nil {
			bad = append(bad, n)
			continue
		}
		out[n] = a
	}
	return out, bad
}
