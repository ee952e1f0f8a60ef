package codec

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StoreStation/AnvilCraft/pkg/protocol"
)

func pipe(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewConn(a), NewConn(b)
}

func sendAll(c *Conn, pkts []*protocol.Packet) <-chan error {
	errc := make(chan error, 1)
	go func() {
		for _, p := range pkts {
			if err := c.WritePacket(p); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()
	return errc
}

func testPackets() []*protocol.Packet {
	return []*protocol.Packet{
		{ID: 0x00, Data: []byte{}},
		{ID: 0x01, Data: []byte("hello")},
		{ID: 0x21, Data: bytes.Repeat([]byte{7}, 70000)},
		{ID: 0x7F, Data: []byte{1}},
	}
}

func TestConnPlain(t *testing.T) {
	server, client := pipe(t)
	pkts := testPackets()
	errc := sendAll(server, pkts)

	for _, want := range pkts {
		got, err := client.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Data, got.Data)
	}
	require.NoError(t, <-errc)
}

func TestConnCompressedEncrypted(t *testing.T) {
	server, client := pipe(t)
	secret := []byte("0123456789abcdef")

	for _, c := range []*Conn{server, client} {
		c.SetThreshold(64)
		require.NoError(t, c.EnableEncryption(secret))
		assert.True(t, c.Encrypted())
		assert.Equal(t, 64, c.Threshold())
	}

	pkts := testPackets()
	errc := sendAll(client, pkts)
	for _, want := range pkts {
		got, err := server.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Data, got.Data)
	}
	require.NoError(t, <-errc)

	// And back the other way on the same streams.
	errc = sendAll(server, pkts[:2])
	for _, want := range pkts[:2] {
		got, err := client.ReadPacket()
		require.NoError(t, err)
		assert.Equal(t, want.Data, got.Data)
	}
	require.NoError(t, <-errc)
}

func TestEnableEncryptionRejectsBadKey(t *testing.T) {
	c, _ := pipe(t)
	assert.Error(t, c.EnableEncryption([]byte("short")))
	assert.False(t, c.Encrypted())
}
