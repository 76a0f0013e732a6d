// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/packet"
	"grimm.is/ipsd/internal/testutil"
)

func decoded(t *testing.T, raw []byte) *packet.Packet {
	t.Helper()
	p := packet.New(1, 0, raw)
	require.NoError(t, packet.NewDecoder().Decode(p))
	return p
}

func TestTracker_TCPHandshake(t *testing.T) {
	tr := New(DefaultConfig(), logging.Discard())
	defer tr.Close()

	syn := decoded(t, testutil.TCPPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80, testutil.TCPFlags{SYN: true}, nil))
	require.NoError(t, tr.Track(syn))
	assert.Equal(t, packet.FlowStateNew, syn.FlowState)

	synAck := decoded(t, testutil.TCPPacket(t, "10.0.0.2", "10.0.0.1", 80, 40000, testutil.TCPFlags{SYN: true, ACK: true}, nil))
	require.NoError(t, tr.Track(synAck))
	assert.Equal(t, packet.FlowStateEstablished, synAck.FlowState)

	data := decoded(t, testutil.TCPPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80, testutil.TCPFlags{ACK: true, PSH: true}, []byte("GET /")))
	require.NoError(t, tr.Track(data))
	assert.Equal(t, packet.FlowStateEstablished, data.FlowState)

	f, ok := tr.Lookup(data.Flow.Reverse())
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Packets)
	assert.True(t, f.ReplySeen)
	assert.Equal(t, 1, tr.Len())

	fin := decoded(t, testutil.TCPPacket(t, "10.0.0.1", "10.0.0.2", 40000, 80, testutil.TCPFlags{FIN: true, ACK: true}, nil))
	require.NoError(t, tr.Track(fin))
	assert.Equal(t, packet.FlowStateClosed, fin.FlowState)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_UDP(t *testing.T) {
	tr := New(DefaultConfig(), logging.Discard())
	defer tr.Close()

	first := decoded(t, testutil.UDPPacket(t, "10.0.0.1", "10.0.0.53", 5353, 53, []byte("q")))
	require.NoError(t, tr.Track(first))
	assert.Equal(t, packet.FlowStateNew, first.FlowState)

	reply := decoded(t, testutil.UDPPacket(t, "10.0.0.53", "10.0.0.1", 53, 5353, []byte("a")))
	require.NoError(t, tr.Track(reply))
	assert.Equal(t, packet.FlowStateEstablished, reply.FlowState)
}

func TestTracker_Undecoded(t *testing.T) {
	tr := New(Config{}, logging.Discard())
	p := packet.New(1, 0, []byte{0x00})
	require.NoError(t, tr.Track(p))
	assert.Equal(t, packet.FlowStateNone, p.FlowState)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_TableFull(t *testing.T) {
	tr := New(Config{MaxFlows: 1, FlowTimeout: time.Hour}, logging.Discard())
	defer tr.Close()

	require.NoError(t, tr.Track(decoded(t, testutil.UDPPacket(t, "10.0.0.1", "10.0.0.2", 1, 2, nil))))

	p := decoded(t, testutil.UDPPacket(t, "10.0.0.3", "10.0.0.4", 1, 2, nil))
	err := tr.Track(p)
	require.Error(t, err)
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))
	assert.Equal(t, packet.FlowStateNew, p.FlowState)
}

func TestTracker_Expiry(t *testing.T) {
	tr := New(Config{MaxFlows: 1, FlowTimeout: 10 * time.Millisecond}, logging.Discard())
	defer tr.Close()

	require.NoError(t, tr.Track(decoded(t, testutil.UDPPacket(t, "10.0.0.1", "10.0.0.2", 1, 2, nil))))
	time.Sleep(30 * time.Millisecond)

	// The idle flow is swept to make room.
	require.NoError(t, tr.Track(decoded(t, testutil.UDPPacket(t, "10.0.0.3", "10.0.0.4", 1, 2, nil))))
	assert.Equal(t, 1, tr.Len())
}
