package answer

import (
	"fmt"
	"net/netip"

	"github.com/miekg/dns"
)

// ParseError is returned by ReverseName when the input is not an address
// literal.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("not an ip address: %q", e.Input)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ReverseName returns the reverse-lookup name for an address literal:
// "1.2.3.4" becomes "4.3.2.1.in-addr.arpa." and IPv6 literals become their
// nibble form under ip6.arpa.
func ReverseName(address string) (string, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return "", &ParseError{Input: address, Err: err}
	}
	if addr.Zone() != "" {
		return "", &ParseError{Input: address, Err: fmt.Errorf("zoned address")}
	}

	name, err := dns.ReverseAddr(addr.Unmap().String())
	if err != nil {
		return "", &ParseError{Input: address, Err: err}
	}
	return name, nil
}
