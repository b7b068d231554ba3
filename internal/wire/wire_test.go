package wire

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	line, err := FormatHello(ModeSocks, nil)
	require.NoError(t, err)
	assert.Equal(t, "HELLO 1 socks", line)

	h, err := ParseHello(line)
	require.NoError(t, err)
	assert.Equal(t, ModeSocks, h.Mode)
	assert.Nil(t, h.Dest)

	dest := Destination{Type: AddrIPv4, Host: "10.0.0.5", Port: 22}
	line, err = FormatHello(ModeDirect, &dest)
	require.NoError(t, err)
	assert.Equal(t, "HELLO 1 direct DEST ipv4 10.0.0.5 22", line)

	h, err = ParseHello(line)
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, h.Mode)
	require.NotNil(t, h.Dest)
	assert.True(t, h.Dest.Equal(dest))
}

func TestHelloDirectRequiresDest(t *testing.T) {
	_, err := FormatHello(ModeDirect, nil)
	assert.Error(t, err)
}

func TestRequestReplyRoundTrip(t *testing.T) {
	dest := Destination{Type: AddrDomain, Host: "example.com", Port: 80}
	line := FormatRequest(dest)
	assert.Equal(t, "REQUEST CONNECT domain example.com 80", line)

	got, err := ParseRequest(line)
	require.NoError(t, err)
	assert.True(t, got.Equal(dest))

	replyLine := FormatReply(ReplySuccess, dest)
	status, d, err := ParseReply(replyLine)
	require.NoError(t, err)
	assert.Equal(t, ReplySuccess, status)
	assert.True(t, d.Equal(dest))
}

func TestParseReplyAcceptsLegacyErr(t *testing.T) {
	status, d, err := ParseReply("ERR target unreachable")
	require.NoError(t, err)
	assert.Equal(t, ReplyGeneral, status)
	assert.True(t, d.Equal(ZeroDestination))
}

func TestBase64AddressRoundTrip(t *testing.T) {
	dest := Destination{Type: AddrDomain, Host: "weird host\twith tabs", Port: 443}
	// Domain validation only checks length, so this still validates,
	// but the host contains whitespace and must be base64-wrapped on
	// the wire.
	line := FormatRequest(dest)
	assert.Contains(t, line, "b64:")
	assert.NotContains(t, strings.TrimPrefix(line, "REQUEST CONNECT domain "), " with ")

	got, err := ParseRequest(line)
	require.NoError(t, err)
	assert.Equal(t, dest.Host, got.Host)
}

func TestDestinationValidate(t *testing.T) {
	cases := []struct {
		name string
		d    Destination
		ok   bool
	}{
		{"valid ipv4", Destination{AddrIPv4, "127.0.0.1", 80}, true},
		{"ipv4 as ipv6", Destination{AddrIPv6, "127.0.0.1", 80}, false},
		{"bad ipv4 text", Destination{AddrIPv4, "not-an-ip", 80}, false},
		{"valid ipv6", Destination{AddrIPv6, "::1", 80}, true},
		{"empty domain", Destination{AddrDomain, "", 80}, false},
		{"port too low", Destination{AddrIPv4, "127.0.0.1", 0}, false},
		{"port too high", Destination{AddrIPv4, "127.0.0.1", 70000}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestReadLineAcceptsCRLF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("OK\r\nHELLO 1 socks\n"))
	line, err := ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "OK", line)

	line, err = ReadLine(r)
	require.NoError(t, err)
	assert.Equal(t, "HELLO 1 socks", line)
}

func TestReadLineRejectsTruncated(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("REQUEST CONNECT ipv4 1.2.3.4 80"))
	_, err := ReadLine(r)
	assert.Error(t, err)
}

func TestStatusFromDialError(t *testing.T) {
	assert.Equal(t, ReplySuccess, StatusFromDialError(nil))
}
