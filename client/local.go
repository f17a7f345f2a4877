package client

import (
	"bufio"
	"encoding/hex"
	"io"
	"net/netip"
	"os"
	"strings"
)

// IfInet6Path lists the host's IPv6 addresses on Linux.
const IfInet6Path = "/proc/net/if_inet6"

// ExpandDaemonAddr turns a bare decimal first hextet such as "7000" into
// "7000::1". Anything else is returned unchanged.
func ExpandDaemonAddr(s string) string {
	if _, err := netip.ParseAddr(s); err == nil {
		return s
	}
	if s != "" && strings.Trim(s, "0123456789") == "" {
		return s + "::1"
	}
	return s
}

// LocalAddrInPrefix returns the first address listed in r, in
// /proc/net/if_inet6 format, whose first 16 bits equal those of ref. A ref
// with an all-zero first hextet matches nothing.
func LocalAddrInPrefix(r io.Reader, ref netip.Addr) (netip.Addr, bool) {
	want := ref.As16()
	if want[0] == 0 && want[1] == 0 {
		return netip.Addr{}, false
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || len(fields[0]) != 32 {
			continue
		}
		raw, err := hex.DecodeString(fields[0])
		if err != nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(raw)
		if !ok {
			continue
		}
		got := addr.As16()
		if got[0] == want[0] && got[1] == want[1] {
			return addr, true
		}
	}
	return netip.Addr{}, false
}

// LocalAddr is LocalAddrInPrefix over the running host's address list.
func LocalAddr(ref netip.Addr) (netip.Addr, bool) {
	f, err := os.Open(IfInet6Path)
	if err != nil {
		return netip.Addr{}, false
	}
	defer f.Close()
	return LocalAddrInPrefix(f, ref)
}
