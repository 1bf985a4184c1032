package dns

import (
	"net/netip"

	"github.com/miekg/dns"
)

// renderer turns an answer value into resource records for one qtype.
type renderer struct {
	ttl    uint32
	mxPref uint16
}

func (r renderer) header(name string, rrtype uint16) dns.RR_Header {
	return dns.RR_Header{
		Name:   name,
		Rrtype: rrtype,
		Class:  dns.ClassINET,
		Ttl:    r.ttl,
	}
}

// render appends the record answering qtype with value to msg. It reports
// false when value cannot be expressed as that record type.
func (r renderer) render(msg *dns.Msg, name string, qtype uint16, value string) bool {
	switch qtype {
	case dns.TypeA:
		addr, err := netip.ParseAddr(value)
		if err != nil || !addr.Unmap().Is4() {
			return false
		}
		msg.Answer = append(msg.Answer, &dns.A{
			Hdr: r.header(name, dns.TypeA),
			A:   addr.Unmap().AsSlice(),
		})
	case dns.TypeAAAA:
		addr, err := netip.ParseAddr(value)
		if err != nil || addr.Is4() || addr.Zone() != "" {
			return false
		}
		msg.Answer = append(msg.Answer, &dns.AAAA{
			Hdr:  r.header(name, dns.TypeAAAA),
			AAAA: addr.AsSlice(),
		})
	case dns.TypeCNAME:
		target, ok := fqdn(value)
		if !ok {
			return false
		}
		msg.Answer = append(msg.Answer, &dns.CNAME{
			Hdr:    r.header(name, dns.TypeCNAME),
			Target: target,
		})
	case dns.TypePTR:
		target, ok := fqdn(value)
		if !ok {
			return false
		}
		msg.Answer = append(msg.Answer, &dns.PTR{
			Hdr: r.header(name, dns.TypePTR),
			Ptr: target,
		})
	case dns.TypeMX:
		target, ok := fqdn(value)
		if !ok {
			return false
		}
		msg.Answer = append(msg.Answer, &dns.MX{
			Hdr:        r.header(name, dns.TypeMX),
			Preference: r.mxPref,
			Mx:         target,
		})
	case dns.TypeTXT:
		msg.Answer = append(msg.Answer, &dns.TXT{
			Hdr: r.header(name, dns.TypeTXT),
			Txt: []string{value},
		})
	default:
		return false
	}
	return true
}

func fqdn(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if _, ok := dns.IsDomainName(name); !ok {
		return "", false
	}
	return dns.Fqdn(name), true
}
