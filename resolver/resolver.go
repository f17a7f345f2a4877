// Package resolver answers translation queries against the current mapping
// table.
package resolver

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/slicknat/slnat/mapping"
	"github.com/slicknat/slnat/prefix"
)

var (
	ErrInvalidAddress = prefix.ErrInvalidAddress
	ErrNotFound       = errors.New("no matching mapping")
)

// Direction tells which side of a rule the queried address matched.
type Direction int

const (
	// Outbound: the query was an internal address.
	Outbound Direction = iota
	// Inbound: the query was an external address.
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Resolution is a successful translation.
type Resolution struct {
	Direction Direction
	Internal  netip.Addr
	External  netip.Addr
	Interface string
	Rule      mapping.Rule
}

// NotFoundError is returned when no rule satisfies the query.
type NotFoundError struct {
	IP string
	// Global is set for global unicast queries.
	Global bool
	// Available is the number of rules that were consulted.
	Available int
}

func (e *NotFoundError) Error() string {
	if e.Global {
		return "No global unicast mapping found for " + e.IP
	}
	return "IP not found in mappings"
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// TableViewer gives read access to a rule table.
type TableViewer interface {
	View(fn func(t *mapping.Table))
}

type Resolver struct {
	tables TableViewer
}

func New(tables TableViewer) *Resolver {
	return &Resolver{
		tables: tables,
	}
}

// Resolve translates an internal address to its external counterpart or,
// failing that, an external address to its internal one. Rules are tried in
// table order; the first match wins.
func (r *Resolver) Resolve(ip string) (Resolution, error) {
	addr, err := prefix.ParseAddr(ip)
	if err != nil {
		return Resolution{}, err
	}

	var (
		res   Resolution
		found bool
	)
	r.tables.View(func(t *mapping.Table) {
		if rule, ok := t.Find(func(rule mapping.Rule) bool {
			return prefix.Matches(addr, rule.Internal, rule.Bits)
		}); ok {
			res = Resolution{
				Direction: Outbound,
				Internal:  addr,
				External:  prefix.Remap(addr, rule.Internal, rule.External, rule.Bits),
				Interface: rule.Interface,
				Rule:      rule,
			}
			found = true
			return
		}
		if rule, ok := t.Find(func(rule mapping.Rule) bool {
			return prefix.Matches(addr, rule.External, rule.Bits)
		}); ok {
			res = Resolution{
				Direction: Inbound,
				Internal:  prefix.Remap(addr, rule.External, rule.Internal, rule.Bits),
				External:  addr,
				Interface: rule.Interface,
				Rule:      rule,
			}
			found = true
		}
	})
	if !found {
		return Resolution{}, &NotFoundError{IP: ip}
	}
	return res, nil
}

// GlobalIP translates an internal address into a global unicast one. A rule
// whose translation falls outside 2000::/3 is passed over.
func (r *Resolver) GlobalIP(ip string) (Resolution, error) {
	addr, err := prefix.ParseAddr(ip)
	if err != nil {
		return Resolution{}, err
	}

	var (
		res       Resolution
		found     bool
		available int
	)
	r.tables.View(func(t *mapping.Table) {
		available = t.Len()
		var global netip.Addr
		rule, ok := t.Find(func(rule mapping.Rule) bool {
			if !prefix.Matches(addr, rule.Internal, rule.Bits) {
				return false
			}
			global = prefix.Remap(addr, rule.Internal, rule.External, rule.Bits)
			return prefix.IsGlobalUnicast(global)
		})
		if !ok {
			return
		}
		res = Resolution{
			Direction: Outbound,
			Internal:  addr,
			External:  global,
			Interface: rule.Interface,
			Rule:      rule,
		}
		found = true
	})
	if !found {
		return Resolution{}, &NotFoundError{IP: ip, Global: true, Available: available}
	}
	return res, nil
}
