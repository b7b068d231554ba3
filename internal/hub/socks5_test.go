package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/singe/contun/internal/wire"
)

func TestTryParseGreetingNeedsMoreBytes(t *testing.T) {
	res := tryParseGreeting([]byte{0x05, 0x02, 0x00})
	assert.True(t, res.needMore)
}

func TestTryParseGreetingAcceptsNoAuth(t *testing.T) {
	res := tryParseGreeting([]byte{0x05, 0x02, 0x01, 0x00})
	require.False(t, res.needMore)
	assert.True(t, res.accepted)
	assert.Equal(t, 4, res.consumed)
}

func TestTryParseGreetingRejectsWithoutNoAuth(t *testing.T) {
	res := tryParseGreeting([]byte{0x05, 0x01, 0x02})
	require.False(t, res.needMore)
	assert.False(t, res.accepted)
}

func TestTryParseRequestIPv4(t *testing.T) {
	buf := []byte{0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x00, 0x50}
	res := tryParseRequest(buf)
	require.False(t, res.needMore)
	require.True(t, res.ok)
	assert.Equal(t, "93.184.216.34", res.dest.Host)
	assert.Equal(t, 80, res.dest.Port)
	assert.Equal(t, len(buf), res.consumed)
}

func TestTryParseRequestDomainNeedsMoreBytes(t *testing.T) {
	buf := []byte{0x05, 0x01, 0x00, 0x03, 11, 'e', 'x', 'a', 'm', 'p', 'l', 'e'}
	res := tryParseRequest(buf)
	assert.True(t, res.needMore)
}

func TestTryParseRequestDomain(t *testing.T) {
	host := "example.com"
	buf := append([]byte{0x05, 0x01, 0x00, 0x03, byte(len(host))}, []byte(host)...)
	buf = append(buf, 0x01, 0xBB)
	res := tryParseRequest(buf)
	require.True(t, res.ok)
	assert.Equal(t, wire.AddrDomain, res.dest.Type)
	assert.Equal(t, host, res.dest.Host)
	assert.Equal(t, 443, res.dest.Port)
}

func TestTryParseRequestZeroLengthDomainFails(t *testing.T) {
	buf := []byte{0x05, 0x01, 0x00, 0x03, 0x00, 0x00, 0x50}
	res := tryParseRequest(buf)
	require.False(t, res.needMore)
	require.False(t, res.ok)
	assert.Equal(t, byte(socksReplyGeneralErr), res.failStatus)
}

func TestTryParseRequestUnsupportedCommand(t *testing.T) {
	buf := []byte{0x05, 0x02, 0x00, 0x01, 1, 2, 3, 4, 0x00, 0x50}
	res := tryParseRequest(buf)
	require.False(t, res.needMore)
	require.False(t, res.ok)
	assert.Equal(t, byte(socksReplyCmdUnsup), res.failStatus)
}

func TestTryParseRequestUnsupportedAtyp(t *testing.T) {
	buf := []byte{0x05, 0x01, 0x00, 0x7F}
	res := tryParseRequest(buf)
	require.False(t, res.needMore)
	require.False(t, res.ok)
	assert.Equal(t, byte(socksReplyAtypUnsup), res.failStatus)
}

func TestSocksReplyEncodesIPv4(t *testing.T) {
	d := wire.Destination{Type: wire.AddrIPv4, Host: "1.2.3.4", Port: 8080}
	reply := socksReply(socksReplySuccess, d)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x01, 1, 2, 3, 4, 0x1F, 0x90}, reply)
}

func TestSocksFailureReplyUsesZeroDestination(t *testing.T) {
	reply := socksFailureReply(byte(wire.ReplyConnRefused))
	assert.Equal(t, []byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0x00, 0x00}, reply)
}
