package hub

import (
	"bytes"
	"encoding/binary"
	"net"

	"github.com/singe/contun/internal/wire"
)

// SOCKS5 no-auth, CONNECT-only front end. Parsing is
// incremental: greetingResult/requestResult report whether enough
// bytes are buffered yet, how many were consumed, and whether the
// connection must be failed and closed.

const (
	socksVersion    = 0x05
	socksCmdConnect = 0x01
	socksAtypIPv4   = 0x01
	socksAtypDomain = 0x03
	socksAtypIPv6   = 0x04

	socksMethodNoAuth    = 0x00
	socksMethodNoneAcpt  = 0xFF
	socksReplySuccess    = 0x00
	socksReplyCmdUnsup   = 0x07
	socksReplyAtypUnsup  = 0x08
	socksReplyGeneralErr = 0x01
)

type greetingResult struct {
	needMore bool
	consumed int
	accepted bool // true if a no-auth method was offered
}

// tryParseGreeting parses {VER, NMETHODS, METHODS...}.
func tryParseGreeting(buf []byte) greetingResult {
	if len(buf) < 2 {
		return greetingResult{needMore: true}
	}
	n := int(buf[1])
	total := 2 + n
	if len(buf) < total {
		return greetingResult{needMore: true}
	}
	if buf[0] != socksVersion {
		return greetingResult{consumed: total, accepted: false}
	}
	methods := buf[2:total]
	accepted := n >= 1 && bytes.IndexByte(methods, socksMethodNoAuth) >= 0
	return greetingResult{consumed: total, accepted: accepted}
}

type requestResult struct {
	needMore   bool
	consumed   int
	ok         bool
	failStatus byte
	dest       wire.Destination
}

// tryParseRequest parses {VER, CMD, RSV, ATYP, DST.ADDR, DST.PORT}.
// A zero-length domain is treated as an invalid address (status 1),
// not an unsupported address type.
func tryParseRequest(buf []byte) requestResult {
	if len(buf) < 4 {
		return requestResult{needMore: true}
	}
	if buf[0] != socksVersion {
		return requestResult{consumed: 4, failStatus: socksReplyGeneralErr}
	}
	if buf[1] != socksCmdConnect {
		return requestResult{consumed: 4, failStatus: socksReplyCmdUnsup}
	}

	atyp := buf[3]
	headerLen := 4
	var addrLen int
	var addrType wire.AddrType

	switch atyp {
	case socksAtypIPv4:
		addrType, addrLen = wire.AddrIPv4, 4
	case socksAtypIPv6:
		addrType, addrLen = wire.AddrIPv6, 16
	case socksAtypDomain:
		if len(buf) < headerLen+1 {
			return requestResult{needMore: true}
		}
		addrLen = int(buf[headerLen])
		headerLen++
		addrType = wire.AddrDomain
	default:
		return requestResult{consumed: 4, failStatus: socksReplyAtypUnsup}
	}

	total := headerLen + addrLen + 2
	if len(buf) < total {
		return requestResult{needMore: true}
	}

	addrBytes := buf[headerLen : headerLen+addrLen]
	port := int(binary.BigEndian.Uint16(buf[headerLen+addrLen : total]))

	var host string
	switch addrType {
	case wire.AddrIPv4, wire.AddrIPv6:
		host = net.IP(addrBytes).String()
	case wire.AddrDomain:
		if addrLen == 0 {
			return requestResult{consumed: total, failStatus: socksReplyGeneralErr}
		}
		host = string(addrBytes)
	}

	dest := wire.Destination{Type: addrType, Host: host, Port: port}
	if err := dest.Validate(); err != nil {
		return requestResult{consumed: total, failStatus: socksReplyGeneralErr}
	}
	return requestResult{consumed: total, ok: true, dest: dest}
}

// socksMethodReply builds the {VER, METHOD} greeting reply.
func socksMethodReply(accepted bool) []byte {
	if accepted {
		return []byte{socksVersion, socksMethodNoAuth}
	}
	return []byte{socksVersion, socksMethodNoneAcpt}
}

// socksReply builds a full CONNECT reply: {VER, REP, RSV, ATYP,
// BND.ADDR, BND.PORT}.
func socksReply(status byte, d wire.Destination) []byte {
	var atyp byte
	var addr []byte
	switch d.Type {
	case wire.AddrIPv6:
		atyp = socksAtypIPv6
		ip := net.ParseIP(d.Host).To16()
		if ip == nil {
			ip = net.IPv6zero
		}
		addr = ip
	case wire.AddrDomain:
		atyp = socksAtypDomain
		addr = append([]byte{byte(len(d.Host))}, []byte(d.Host)...)
	default:
		atyp = socksAtypIPv4
		ip := net.ParseIP(d.Host)
		if ip != nil {
			if ip4 := ip.To4(); ip4 != nil {
				ip = ip4
			}
		}
		if ip == nil {
			ip = net.IPv4zero
		}
		addr = ip
	}

	buf := make([]byte, 0, 4+len(addr)+2)
	buf = append(buf, socksVersion, status, 0x00, atyp)
	buf = append(buf, addr...)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, uint16(d.Port))
	return append(buf, portBytes...)
}

// socksFailureReply builds the failure-form reply:
// {05, <status>, 00, 01, 0.0.0.0, 0}.
func socksFailureReply(status byte) []byte {
	return socksReply(status, wire.ZeroDestination)
}

// socksStatusFromWireStatus maps a wire REPLY status onto a SOCKS5 reply byte; anything unrecognised
// collapses to a general failure.
func socksStatusFromWireStatus(status int) byte {
	switch status {
	case wire.ReplySuccess, wire.ReplyGeneral, wire.ReplyNetUnreachable,
		wire.ReplyHostUnreachable, wire.ReplyConnRefused,
		wire.ReplyCmdUnsupported, wire.ReplyAtypUnsupported:
		return byte(status)
	default:
		return socksReplyGeneralErr
	}
}
