package dns

import (
	"github.com/miekg/dns"
)

const (
	// DefaultEDNSBufferSize is advertised when the client asks for size 0.
	DefaultEDNSBufferSize = 4096
	// MaxEDNSBufferSize caps the advertised size to stay clear of fragmentation.
	MaxEDNSBufferSize = 4096
	// MinEDNSBufferSize is the RFC 1035 floor.
	MinEDNSBufferSize = 512
)

// echoEDNS0 adds an OPT record to resp when req carried one. The DO bit is
// preserved.
func echoEDNS0(req, resp *dns.Msg) {
	if req == nil || resp == nil {
		return
	}
	reqOpt := req.IsEdns0()
	if reqOpt == nil || resp.IsEdns0() != nil {
		return
	}

	// SetUDPSize writes the Class field, which is the payload size for OPT
	opt := &dns.OPT{
		Hdr: dns.RR_Header{
			Name:   ".",
			Rrtype: dns.TypeOPT,
		},
	}
	opt.SetUDPSize(negotiateBufferSize(reqOpt.UDPSize()))
	if reqOpt.Do() {
		opt.SetDo()
	}
	resp.Extra = append(resp.Extra, opt)
}

func negotiateBufferSize(requested uint16) uint16 {
	switch {
	case requested == 0:
		return DefaultEDNSBufferSize
	case requested < MinEDNSBufferSize:
		return MinEDNSBufferSize
	case requested > MaxEDNSBufferSize:
		return MaxEDNSBufferSize
	default:
		return requested
	}
}
