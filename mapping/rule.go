package mapping

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strconv"
	"strings"

	"github.com/slicknat/slnat/prefix"
)

const (
	ruleArrow   = "->"
	maxLineSize = 1 << 20
)

var ErrMalformedRule = errors.New("malformed mapping rule")

// Rule rewrites addresses of Internal/Bits into External/Bits on the named
// interface and back.
type Rule struct {
	Interface string
	Internal  netip.Addr
	External  netip.Addr
	Bits      int
}

func (r Rule) String() string {
	return fmt.Sprintf("%s %s/%d -> %s/%d", r.Interface, r.Internal, r.Bits, r.External, r.Bits)
}

// RuleError describes a rejected line of the mapping source.
type RuleError struct {
	Line   int
	Text   string
	Reason string
}

func (e *RuleError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Text)
}

func (e *RuleError) Unwrap() error {
	return ErrMalformedRule
}

// isSkipped reports whether line carries no rule at all.
func isSkipped(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// ParseRule parses a single line of the form
//
//	<iface> <addr>/<len> -> <addr>/<len>
//
// Both prefix lengths must be equal.
func ParseRule(line string) (Rule, error) {
	reject := func(reason string) (Rule, error) {
		return Rule{}, &RuleError{Text: line, Reason: reason}
	}

	fields := strings.Fields(line)
	if len(fields) != 4 {
		return reject(fmt.Sprintf("expected 4 fields, got %d", len(fields)))
	}
	if fields[2] != ruleArrow {
		return reject(fmt.Sprintf("expected %q, got %q", ruleArrow, fields[2]))
	}

	internal, internalBits, err := parsePrefix(fields[1])
	if err != nil {
		return reject(fmt.Sprintf("internal prefix: %v", err))
	}
	external, externalBits, err := parsePrefix(fields[3])
	if err != nil {
		return reject(fmt.Sprintf("external prefix: %v", err))
	}
	if internalBits != externalBits {
		return reject(fmt.Sprintf("prefix length mismatch: /%d -> /%d", internalBits, externalBits))
	}

	return Rule{
		Interface: fields[0],
		Internal:  internal,
		External:  external,
		Bits:      internalBits,
	}, nil
}

func parsePrefix(token string) (netip.Addr, int, error) {
	addrPart, lenPart, ok := strings.Cut(token, "/")
	if !ok {
		return netip.Addr{}, 0, fmt.Errorf("missing prefix length in %q", token)
	}
	if addrPart == "" || strings.Trim(addrPart, "0123456789abcdefABCDEF:") != "" {
		return netip.Addr{}, 0, fmt.Errorf("bad address %q", addrPart)
	}
	addr, err := prefix.ParseAddr(addrPart)
	if err != nil {
		return netip.Addr{}, 0, err
	}
	if lenPart == "" || strings.Trim(lenPart, "0123456789") != "" {
		return netip.Addr{}, 0, fmt.Errorf("bad prefix length %q", lenPart)
	}
	bits, err := strconv.Atoi(lenPart)
	if err != nil || bits > prefix.BitLen {
		return netip.Addr{}, 0, fmt.Errorf("prefix length %q out of range 0..%d", lenPart, prefix.BitLen)
	}
	return addr, bits, nil
}

// ParseTable reads rules from r in order. Rejected lines are returned
// alongside the table; a read error discards everything.
func ParseTable(r io.Reader) (*Table, []*RuleError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	var (
		rules   []Rule
		rejects []*RuleError
		lineNo  int
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if isSkipped(line) {
			continue
		}
		rule, err := ParseRule(line)
		if err != nil {
			var ruleErr *RuleError
			if errors.As(err, &ruleErr) {
				ruleErr.Line = lineNo
				rejects = append(rejects, ruleErr)
				continue
			}
			return nil, nil, err
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read error after line %d: %w", lineNo, err)
	}

	return newTable(rules), rejects, nil
}
