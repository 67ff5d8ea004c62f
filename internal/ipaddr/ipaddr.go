// Package ipaddr converts IPv4 addresses between their text and integer forms
// and answers CIDR membership questions.
package ipaddr

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
	"strings"
)

// FormatError reports an address that cannot be converted.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

// ToInteger parses a dotted-quad IPv4 address into its canonical integer.
func ToInteger(text string) (uint32, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(text))
	if err != nil {
		return 0, &FormatError{Input: text, Reason: err.Error()}
	}
	if !addr.Is4() {
		return 0, &FormatError{Input: text, Reason: "not an IPv4 address"}
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// ToText renders an integer address as a dotted quad.
func ToText(ip uint32) string {
	return toAddr(ip).String()
}

// FromInt64 validates an address read back from storage.
func FromInt64(v int64) (uint32, error) {
	if v < 0 || v > math.MaxUint32 {
		return 0, &FormatError{Input: fmt.Sprint(v), Reason: "outside the 32-bit address range"}
	}
	return uint32(v), nil
}

func toAddr(ip uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return netip.AddrFrom4(b)
}

// parse accepts either a bare address or a CIDR and returns it as a prefix.
// A bare address becomes a /32.
func parse(text string) (netip.Prefix, error) {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "/") {
		p, err := netip.ParsePrefix(text)
		if err != nil {
			return netip.Prefix{}, &FormatError{Input: text, Reason: err.Error()}
		}
		if !p.Addr().Is4() {
			return netip.Prefix{}, &FormatError{Input: text, Reason: "not an IPv4 network"}
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(text)
	if err != nil {
		return netip.Prefix{}, &FormatError{Input: text, Reason: err.Error()}
	}
	if !addr.Is4() {
		return netip.Prefix{}, &FormatError{Input: text, Reason: "not an IPv4 address"}
	}
	return netip.PrefixFrom(addr, 32), nil
}

// Overlaps reports whether candidate lies inside network. Both arguments may
// be an address or a CIDR. Two bare addresses overlap only when equal; two
// CIDRs overlap when candidate is contained in network.
func Overlaps(network, candidate string) (bool, error) {
	n, err := parse(network)
	if err != nil {
		return false, err
	}
	c, err := parse(candidate)
	if err != nil {
		return false, err
	}
	return n.Bits() <= c.Bits() && n.Contains(c.Addr()), nil
}

// Network is a parsed internal network used to classify flow endpoints.
type Network struct {
	prefix netip.Prefix
}

// ParseNetwork parses an address or CIDR into a Network.
func ParseNetwork(text string) (*Network, error) {
	p, err := parse(text)
	if err != nil {
		return nil, err
	}
	return &Network{prefix: p}, nil
}

// MustParseNetwork is ParseNetwork for literals known to be valid.
func MustParseNetwork(text string) *Network {
	n, err := ParseNetwork(text)
	if err != nil {
		panic(err)
	}
	return n
}

// IsInternal reports whether ip falls inside the network.
func (n *Network) IsInternal(ip uint32) bool {
	return n.prefix.Contains(toAddr(ip))
}

func (n *Network) String() string {
	return n.prefix.String()
}
