// Package prefix implements bit-level IPv6 prefix matching and rewriting.
package prefix

import (
	"errors"
	"fmt"
	"net/netip"
)

const (
	// BitLen is the width of an IPv6 address in bits.
	BitLen  = 128
	byteLen = BitLen / 8
)

var (
	ErrInvalidAddress = errors.New("invalid IPv6 address")

	globalUnicast = netip.MustParsePrefix("2000::/3")
)

// ParseAddr parses an IPv6 literal. IPv4 literals and zoned addresses are
// rejected.
func ParseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if !addr.Is6() || addr.Zone() != "" {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return addr, nil
}

func clampBits(bits int) int {
	if bits < 0 {
		return 0
	}
	if bits > BitLen {
		return BitLen
	}
	return bits
}

func partialMask(rem int) byte {
	return byte(0xFF << (8 - rem))
}

// Matches reports whether the top bits of addr are equal to those of pfx.
// Bits outside of [0, 128] are clamped.
func Matches(addr, pfx netip.Addr, bits int) bool {
	bits = clampBits(bits)
	a, p := addr.As16(), pfx.As16()

	full, rem := bits/8, bits%8
	for i := 0; i < full; i++ {
		if a[i] != p[i] {
			return false
		}
	}
	if rem != 0 {
		mask := partialMask(rem)
		if a[full]&mask != p[full]&mask {
			return false
		}
	}
	return true
}

// Remap replaces the top bits of addr with the corresponding bits of
// newPfx. Host bits are kept. oldPfx is not consulted; it is accepted so
// that call sites read the same way as Matches.
func Remap(addr, oldPfx, newPfx netip.Addr, bits int) netip.Addr {
	bits = clampBits(bits)
	a, p := addr.As16(), newPfx.As16()

	full, rem := bits/8, bits%8
	copy(a[:full], p[:full])
	if rem != 0 && full < byteLen {
		mask := partialMask(rem)
		a[full] = p[full]&mask | a[full]&^mask
	}
	return netip.AddrFrom16(a)
}

// IsGlobalUnicast reports whether addr lies in 2000::/3.
func IsGlobalUnicast(addr netip.Addr) bool {
	if !addr.Is6() {
		return false
	}
	return globalUnicast.Contains(addr.WithZone(""))
}
