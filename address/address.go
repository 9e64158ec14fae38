// Package address provides the ServerAddress type used as the key throughout
// topology, pool, and selector state.
package address

import (
	"net"
	"strings"
)

// Address is a host:port pair identifying a single server. Equality is
// structural: two Addresses naming the same normalized host and port are
// equal even if their original casing or the presence of a default port
// differed.
type Address string

// Network always returns "tcp"; Unix domain sockets are not part of the core.
func (a Address) Network() string { return "tcp" }

// String returns the address in canonical host:port form.
func (a Address) String() string { return string(a) }

// Canonicalize lower-cases the host portion and fills in the default port
// 27017 when none is present, so that two textually different spellings of
// the same server compare equal via ==.
func (a Address) Canonicalize() Address {
	s := string(a)
	if s == "" {
		return a
	}
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		// No port present; assume the default.
		host = s
		port = "27017"
	}
	host = strings.ToLower(host)
	return Address(net.JoinHostPort(host, port))
}
