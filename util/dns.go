package util

import (
	"encoding/binary"

	"github.com/miekg/dns"
)

// DNSHeaderSize is the fixed DNS header length; anything shorter cannot be
// answered at all.
const DNSHeaderSize = 12

func DNSNewFailure(source *dns.Msg) *dns.Msg {
	if source == nil {
		return nil
	}

	var target = new(dns.Msg)
	target.SetRcode(source, dns.RcodeServerFailure)
	target.RecursionAvailable = true

	return target
}

// DNSNewHeaderReply builds an empty reply carrying rcode from the header of a
// raw query that could not be decoded. It returns nil when raw is shorter than
// a header.
func DNSNewHeaderReply(raw []byte, rcode int) *dns.Msg {
	if len(raw) < DNSHeaderSize {
		return nil
	}

	var target = new(dns.Msg)
	target.Id = binary.BigEndian.Uint16(raw[0:2])
	target.Opcode = int(raw[2]>>3) & 0xF
	target.RecursionDesired = raw[2]&0x1 != 0
	target.Response = true
	target.Rcode = rcode

	return target
}

// DNSUDPSize returns the largest reply the requester accepts over UDP.
func DNSUDPSize(req *dns.Msg) int {
	if req == nil {
		return dns.MinMsgSize
	}

	if opt := req.IsEdns0(); opt != nil {
		if size := int(opt.UDPSize()); size > dns.MinMsgSize {
			return size
		}
	}

	return dns.MinMsgSize
}

// DNSSubnetRemove drops the EDNS client subnet option from m.
func DNSSubnetRemove(m *dns.Msg) {

	if m == nil {
		return
	}

	var opt = m.IsEdns0()
	if opt == nil || len(opt.Option) == 0 {
		return
	}

	var options = make([]dns.EDNS0, 0, len(opt.Option))
	for _, edns0 := range opt.Option {
		if edns0.Option() == dns.EDNS0SUBNET {
			continue
		}
		options = append(options, edns0)
	}
	opt.Option = options
}

func DNSSubnetExist(m *dns.Msg) bool {

	if m == nil {
		return false
	}

	var opt = m.IsEdns0()
	if opt == nil || len(opt.Option) == 0 {
		return false
	}

	for _, edns0 := range opt.Option {
		if edns0.Option() == dns.EDNS0SUBNET {
			return true
		}
	}

	return false
}
