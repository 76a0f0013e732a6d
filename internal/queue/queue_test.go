// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package queue

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/packet"
	"grimm.is/ipsd/internal/testutil"
)

func TestMemQueue_ReceiveAndVerdict(t *testing.T) {
	q := NewMemQueue(3, 8)
	defer q.Close()

	id, err := q.Inject([]byte{0x45})
	require.NoError(t, err)

	p, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.Equal(t, uint16(3), p.Queue)
	assert.Same(t, q, p.Source)

	require.NoError(t, p.Source.SetVerdict(p.ID, packet.Drop))
	assert.Equal(t, packet.Drop, q.Verdicts()[id])
	assert.Equal(t, 1, q.VerdictCount(id))
	assert.True(t, q.WaitVerdicts(1, time.Second))

	stats := q.GetStats()
	assert.Equal(t, uint64(1), stats.PacketsProcessed)
	assert.Equal(t, uint64(1), stats.PacketsDropped)
}

func TestMemQueue_ReceiveContext(t *testing.T) {
	q := NewMemQueue(0, 1)
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemQueue_Close(t *testing.T) {
	q := NewMemQueue(0, 1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, errors.KindUnavailable, errors.GetKind(err))

	_, err = q.Inject(nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, q.SetVerdict(1, packet.Accept), ErrClosed)
	assert.False(t, q.WaitVerdicts(1, 5*time.Millisecond))
}

func TestPcapQueue_Replay(t *testing.T) {
	first := testutil.UDPPacket(t, "10.0.0.1", "10.0.0.2", 1000, 53, []byte("a"))
	second := testutil.TCPPacket(t, "10.0.0.1", "10.0.0.2", 2000, 80, testutil.TCPFlags{SYN: true}, nil)
	path := testutil.WritePcap(t, first, second)

	q, err := OpenPcap(path, 7)
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	p1, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), p1.ID)
	assert.Equal(t, uint16(7), p1.Queue)
	assert.Equal(t, first, p1.Payload)
	assert.True(t, time.Unix(1700000000, 0).Equal(p1.Timestamp))

	p2, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, p2.Payload)

	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, p1.Source.SetVerdict(p1.ID, packet.Accept))
	require.NoError(t, p2.Source.SetVerdict(p2.ID, packet.Drop))
	stats := q.GetStats()
	assert.Equal(t, uint64(2), stats.PacketsProcessed)
	assert.Equal(t, uint64(1), stats.PacketsAccepted)
	assert.Equal(t, uint64(1), stats.PacketsDropped)

	require.NoError(t, q.Close())
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenPcap_Missing(t *testing.T) {
	_, err := OpenPcap(filepath.Join(t.TempDir(), "nope.pcap"), 0)
	require.Error(t, err)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestDefaultNFQConfig(t *testing.T) {
	cfg := DefaultNFQConfig(4)
	assert.Equal(t, uint16(4), cfg.Num)
	assert.Equal(t, uint32(0xFFFF), cfg.MaxPacketLen)
	assert.Equal(t, uint32(1024), cfg.MaxQueueLen)
	assert.True(t, cfg.FailOpen)
}

func TestMemQueue_Drain(t *testing.T) {
	q := NewMemQueue(2, 4)
	defer q.Close()

	for i := 0; i < 3; i++ {
		_, err := q.Inject([]byte{0x45})
		require.NoError(t, err)
	}

	var d Drainer = q
	pending := d.Drain()
	require.Len(t, pending, 3)
	for i, p := range pending {
		assert.Equal(t, uint32(i+1), p.ID)
		assert.Same(t, q, p.Source)
	}

	_, err := q.Inject([]byte{0x45})
	assert.ErrorIs(t, err, ErrClosed)
	assert.Empty(t, q.Drain())
	assert.Equal(t, uint64(3), q.GetStats().PacketsProcessed)
}
