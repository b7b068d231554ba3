package hub

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListenReusePortMultipleOnSamePort(t *testing.T) {
	ln1, err := ListenReusePort("127.0.0.1:0")
	require.NoError(t, err)
	defer ln1.Close()

	addr := ln1.Addr().String()
	ln2, err := ListenReusePort(addr)
	if err != nil {
		t.Skipf("SO_REUSEPORT not available in this environment: %v", err)
	}
	defer ln2.Close()
}
