// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package packet

import (
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"grimm.is/ipsd/internal/errors"
)

// Decoder decodes raw IP packets as delivered by NFQUEUE (no link layer).
// A Decoder reuses its layer buffers and must not be shared between goroutines.
type Decoder struct {
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	icmp6   layers.ICMPv6
	payload gopacket.Payload

	parser4 *gopacket.DecodingLayerParser
	parser6 *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewDecoder creates a decoder for IPv4 and IPv6 packets.
func NewDecoder() *Decoder {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 4)}
	transport := []gopacket.DecodingLayer{&d.tcp, &d.udp, &d.icmp4, &d.icmp6, &d.payload}

	d.parser4 = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv4, append([]gopacket.DecodingLayer{&d.ip4}, transport...)...)
	d.parser6 = gopacket.NewDecodingLayerParser(layers.LayerTypeIPv6, append([]gopacket.DecodingLayer{&d.ip6}, transport...)...)
	d.parser4.IgnoreUnsupported = true
	d.parser6.IgnoreUnsupported = true
	return d
}

// Decode fills the flow key, TCP flags and transport payload of p.
// On error p is left undecoded and still travels to its verdict.
func (d *Decoder) Decode(p *Packet) error {
	p.Decoded = false
	if len(p.Payload) == 0 {
		return errors.New(errors.KindValidation, "empty packet")
	}

	var parser *gopacket.DecodingLayerParser
	switch p.Payload[0] >> 4 {
	case 4:
		parser = d.parser4
	case 6:
		parser = d.parser6
	default:
		return errors.Errorf(errors.KindValidation, "unknown IP version %d", p.Payload[0]>>4)
	}

	if err := parser.DecodeLayers(p.Payload, &d.decoded); err != nil {
		return errors.Wrap(err, errors.KindValidation, "decode failed")
	}

	var key FlowKey
	p.TCPFlags = 0
	p.L4 = nil
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			key.Src = addr(d.ip4.SrcIP)
			key.Dst = addr(d.ip4.DstIP)
			key.Proto = uint8(d.ip4.Protocol)
		case layers.LayerTypeIPv6:
			key.Src = addr(d.ip6.SrcIP)
			key.Dst = addr(d.ip6.DstIP)
			key.Proto = uint8(d.ip6.NextHeader)
		case layers.LayerTypeTCP:
			key.SrcPort = uint16(d.tcp.SrcPort)
			key.DstPort = uint16(d.tcp.DstPort)
			p.TCPFlags = tcpFlags(&d.tcp)
			p.L4 = d.tcp.Payload
		case layers.LayerTypeUDP:
			key.SrcPort = uint16(d.udp.SrcPort)
			key.DstPort = uint16(d.udp.DstPort)
			p.L4 = d.udp.Payload
		case layers.LayerTypeICMPv4:
			p.L4 = d.icmp4.Payload
		case layers.LayerTypeICMPv6:
			p.L4 = d.icmp6.Payload
		}
	}
	if !key.Src.IsValid() {
		return errors.New(errors.KindValidation, "no network layer")
	}

	p.Flow = key
	p.Decoded = true
	return nil
}

func addr(ip net.IP) netip.Addr {
	a, _ := netip.AddrFromSlice(ip)
	return a.Unmap()
}

func tcpFlags(t *layers.TCP) uint8 {
	var f uint8
	if t.FIN {
		f |= TCPFin
	}
	if t.SYN {
		f |= TCPSyn
	}
	if t.RST {
		f |= TCPRst
	}
	if t.PSH {
		f |= TCPPsh
	}
	if t.ACK {
		f |= TCPAck
	}
	return f
}
