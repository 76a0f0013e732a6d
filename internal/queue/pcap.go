// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package queue

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcapgo"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/packet"
)

// PcapQueue replays a capture file as if its packets came from a kernel
// queue. Link layers are stripped so stages see raw IP packets. Verdicts
// are recorded, not enforced.
type PcapQueue struct {
	recorder

	num    uint16
	file   *os.File
	reader *pcapgo.Reader

	readMu sync.Mutex
	nextID uint32
	closed bool
}

// OpenPcap opens a classic pcap file for replay on queue number num.
func OpenPcap(path string, num uint16) (*PcapQueue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindNotFound, "open capture")
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.KindValidation, "read capture header")
	}
	q := &PcapQueue{num: num, file: f, reader: r}
	q.recorder.init()
	return q, nil
}

// Receive returns the next IP packet of the capture, skipping frames
// without a network layer. At end of file it returns io.EOF.
func (q *PcapQueue) Receive(ctx context.Context) (*packet.Packet, error) {
	q.readMu.Lock()
	defer q.readMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.closed {
			return nil, ErrClosed
		}

		data, ci, err := q.reader.ReadPacketData()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.KindValidation, "read capture")
		}

		decoded := gopacket.NewPacket(data, q.reader.LinkType(), gopacket.Lazy)
		nl := decoded.NetworkLayer()
		if nl == nil {
			continue
		}
		raw := make([]byte, 0, len(nl.LayerContents())+len(nl.LayerPayload()))
		raw = append(raw, nl.LayerContents()...)
		raw = append(raw, nl.LayerPayload()...)

		q.nextID++
		p := packet.New(q.nextID, q.num, raw)
		p.Source = q
		if !ci.Timestamp.IsZero() {
			p.Timestamp = ci.Timestamp
		} else {
			p.Timestamp = time.Now()
		}
		q.received()
		return p, nil
	}
}

// SetVerdict implements packet.Verdicter.
func (q *PcapQueue) SetVerdict(id uint32, v packet.Verdict) error {
	q.record(id, v)
	return nil
}

// Close implements Queue.
func (q *PcapQueue) Close() error {
	q.readMu.Lock()
	defer q.readMu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.file.Close()
}
