// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pipeline

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"grimm.is/ipsd/internal/errors"
	"grimm.is/ipsd/internal/logging"
	"grimm.is/ipsd/internal/packet"
	"grimm.is/ipsd/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func srcPortHash(p *packet.Packet) uint32 { return uint32(p.Flow.SrcPort) }

func TestRoleString(t *testing.T) {
	want := []string{"receive", "decode", "stream", "detect", "verdict", "respond", "output"}
	require.Len(t, Roles, len(want))
	for i, r := range Roles {
		assert.Equal(t, want[i], r.String())
		assert.True(t, r.Valid())
	}
	assert.False(t, Role(42).Valid())
	assert.Equal(t, "role(42)", Role(42).String())
}

func TestChannelClosesAfterLastProducer(t *testing.T) {
	ch := NewChannel("test", 0)
	ch.attach()
	ch.attach()
	assert.Equal(t, 2, ch.Producers())

	ch.release()
	select {
	case _, ok := <-ch.c:
		t.Fatalf("channel should still be open, got ok=%v", ok)
	default:
	}

	ch.release()
	_, ok := <-ch.c
	assert.False(t, ok, "channel should be closed after last release")
}

func TestRoutingTable(t *testing.T) {
	_, err := NewRoutingTable(0, nil)
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))

	for _, n := range []int{1, 2, 3, 7} {
		rt, err := NewRoutingTable(n, srcPortHash)
		require.NoError(t, err)
		assert.Equal(t, n*BucketsPerInstance, rt.Buckets())

		seen := make(map[int]bool)
		for h := uint32(0); h < 4096; h++ {
			inst := rt.Lookup(h)
			require.GreaterOrEqual(t, inst, 0)
			require.Less(t, inst, n)
			assert.Equal(t, int(h%uint32(n)), inst)
			seen[inst] = true
		}
		assert.Len(t, seen, n, "every instance owns buckets")
	}
}

func TestRoutingTable_FlowPinning(t *testing.T) {
	rt, err := NewRoutingTable(3, srcPortHash)
	require.NoError(t, err)

	p := packet.New(1, 0, nil)
	p.Flow = packet.FlowKey{SrcPort: 5}
	assert.Equal(t, 2, rt.Route(p))
	assert.Equal(t, uint32(5), p.FlowHash)

	// Same flow, same instance, every time.
	for i := 0; i < 100; i++ {
		q := packet.New(uint32(i), 0, nil)
		q.Flow = packet.FlowKey{SrcPort: 5}
		assert.Equal(t, 2, rt.Route(q))
	}
}

func TestRoutingTable_DefaultHashSymmetric(t *testing.T) {
	rt, err := NewRoutingTable(4, nil)
	require.NoError(t, err)

	fwd := packet.FlowKey{
		Src:     netip.MustParseAddr("10.0.0.1"),
		Dst:     netip.MustParseAddr("10.0.0.2"),
		SrcPort: 40000,
		DstPort: 443,
		Proto:   packet.ProtoTCP,
	}
	a := packet.New(1, 0, nil)
	a.Decoded, a.Flow = true, fwd
	b := packet.New(2, 0, nil)
	b.Decoded, b.Flow = true, fwd.Reverse()

	assert.Equal(t, rt.Route(a), rt.Route(b))
}

func TestFactory_Validation(t *testing.T) {
	f := NewFactory(logging.Discard(), nil, nil)
	out := NewChannel("out", 1)
	in := NewChannel("in", 1)

	tests := []struct {
		name   string
		spec   StageSpec
		collab Collaborators
	}{
		{"unknown role", StageSpec{Role: Role(9), Outputs: []*Channel{out}}, Collaborators{}},
		{"receive without queue", StageSpec{Role: RoleReceive, Outputs: []*Channel{out}}, Collaborators{}},
		{"receive with input", StageSpec{Role: RoleReceive, Input: in, Outputs: []*Channel{out}}, Collaborators{Queue: queue.NewMemQueue(0, 1)}},
		{"decode without input", StageSpec{Role: RoleDecode, Outputs: []*Channel{out}}, Collaborators{Decoder: packet.NewDecoder()}},
		{"decode without decoder", StageSpec{Role: RoleDecode, Input: in, Outputs: []*Channel{out}}, Collaborators{}},
		{"stream without tracker", StageSpec{Role: RoleStreamTrack, Input: in, Outputs: []*Channel{out}}, Collaborators{}},
		{"detect without engine", StageSpec{Role: RoleDetect, Input: in, Outputs: []*Channel{out}}, Collaborators{}},
		{"verdict without output", StageSpec{Role: RoleVerdict, Input: in}, Collaborators{}},
		{"respond without responder", StageSpec{Role: RoleRespond, Input: in, Outputs: []*Channel{out}}, Collaborators{}},
		{"output without writer", StageSpec{Role: RoleOutput, Input: in}, Collaborators{}},
		{"negative cpu", StageSpec{Role: RoleVerdict, CPU: -1, Input: in, Outputs: []*Channel{out}}, Collaborators{}},
		{"detect with typed nil engine", StageSpec{Role: RoleDetect, Input: in, Outputs: []*Channel{out}}, Collaborators{Engine: (*recordingEngine)(nil)}},
		{"receive with typed nil queue", StageSpec{Role: RoleReceive, Outputs: []*Channel{out}}, Collaborators{Queue: (*queue.MemQueue)(nil)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := f.Create(tt.spec, tt.collab)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Equal(t, errors.KindStageInit, errors.GetKind(err))
			assert.Contains(t, errors.GetAttributes(err), "role")
			if !isNil(tt.collab.Queue) {
				tt.collab.Queue.Close()
			}
		})
	}
	assert.Equal(t, 0, out.Producers(), "failed creates must not attach")
}

type recordingEngine struct {
	mu   sync.Mutex
	seen []int
}

func (e *recordingEngine) Inspect(p *packet.Packet) {
	e.mu.Lock()
	e.seen = append(e.seen, p.Detector)
	e.mu.Unlock()
	if p.Flow.DstPort == 666 {
		p.SetDrop()
	}
}

type collectOutput struct {
	mu   sync.Mutex
	pkts []*packet.Packet
}

func (o *collectOutput) Write(p *packet.Packet) error {
	o.mu.Lock()
	o.pkts = append(o.pkts, p)
	o.mu.Unlock()
	return nil
}

func TestStageChain_DrainsAndVerdicts(t *testing.T) {
	q := queue.NewMemQueue(0, 16)
	probe := &ActiveCounter{}
	f := NewFactory(logging.Discard(), nil, probe)
	engine := &recordingEngine{}
	sink := &collectOutput{}

	toDetect := NewChannel("detect", 4)
	toVerdict := NewChannel("verdict", 4)
	toOutput := NewChannel("output", 4)
	rt, err := NewRoutingTable(1, srcPortHash)
	require.NoError(t, err)

	specs := []struct {
		spec   StageSpec
		collab Collaborators
	}{
		{StageSpec{Role: RoleReceive, Outputs: []*Channel{toDetect}}, Collaborators{Queue: q}},
		{StageSpec{Role: RoleDetect, Input: toDetect, Outputs: []*Channel{toVerdict}, Table: rt}, Collaborators{Engine: engine}},
		{StageSpec{Role: RoleVerdict, Input: toVerdict, Outputs: []*Channel{toOutput}}, Collaborators{}},
		{StageSpec{Role: RoleOutput, Input: toOutput}, Collaborators{Output: sink}},
	}

	var stages []*Stage
	for _, s := range specs {
		st, err := f.Create(s.spec, s.collab)
		require.NoError(t, err)
		stages = append(stages, st)
	}

	var wg sync.WaitGroup
	for _, st := range stages {
		wg.Add(1)
		go func(st *Stage) {
			defer wg.Done()
			assert.NoError(t, st.Run(context.Background()))
		}(st)
	}

	for i := 0; i < 10; i++ {
		p := packet.New(uint32(i+1), 0, nil)
		p.Flow = packet.FlowKey{SrcPort: uint16(i), DstPort: 80}
		if i == 3 {
			p.Flow.DstPort = 666
		}
		require.NoError(t, q.InjectPacket(p))
	}
	require.True(t, q.WaitVerdicts(10, 2*time.Second))

	stages[0].Stop()
	wg.Wait()
	assert.Equal(t, 0, probe.Active())

	verdicts := q.Verdicts()
	require.Len(t, verdicts, 10)
	for id := uint32(1); id <= 10; id++ {
		assert.Equal(t, 1, q.VerdictCount(id))
		if id == 4 {
			assert.Equal(t, packet.VerdictDrop, verdicts[id].Type)
		} else {
			assert.Equal(t, packet.VerdictAccept, verdicts[id].Type)
		}
	}

	sink.mu.Lock()
	assert.Len(t, sink.pkts, 10)
	for _, p := range sink.pkts {
		assert.Equal(t, 0, p.Detector)
		assert.Equal(t, uint32(p.Flow.SrcPort), p.FlowHash)
	}
	sink.mu.Unlock()

	for _, st := range stages {
		assert.NoError(t, st.Close())
	}
}

func TestStage_RouterSelectsOutput(t *testing.T) {
	f := NewFactory(logging.Discard(), nil, nil)
	in := NewChannel("in", 4)
	outs := []*Channel{NewChannel("o0", 4), NewChannel("o1", 4), NewChannel("o2", 4)}
	rt, err := NewRoutingTable(len(outs), srcPortHash)
	require.NoError(t, err)

	in.attach()

	st, err := f.Create(StageSpec{
		Role:    RoleVerdict,
		Input:   in,
		Outputs: outs,
		Router:  rt.Route,
	}, Collaborators{})
	require.NoError(t, err)

	q := queue.NewMemQueue(0, 1)
	defer q.Close()
	p := packet.New(7, 0, nil)
	p.Source = q
	p.Flow = packet.FlowKey{SrcPort: 5}
	in.c <- p
	in.release()

	require.NoError(t, st.Run(context.Background()))

	got, ok := <-outs[2].c
	require.True(t, ok)
	assert.Same(t, p, got)
	for _, o := range outs {
		_, open := <-o.c
		assert.False(t, open)
	}
	assert.Equal(t, 1, q.VerdictCount(7))
}

func TestStage_HardCancel(t *testing.T) {
	q := queue.NewMemQueue(0, 1)
	f := NewFactory(logging.Discard(), nil, nil)
	out := NewChannel("out", 1)

	st, err := f.Create(StageSpec{Role: RoleReceive, Outputs: []*Channel{out}}, Collaborators{Queue: q})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- st.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receive stage did not stop on cancel")
	}
	_, ok := <-out.c
	assert.False(t, ok)
	assert.NoError(t, st.Close())
	assert.NoError(t, st.Close())
}

func TestStageInfo(t *testing.T) {
	f := NewFactory(logging.Discard(), nil, nil)
	in := NewChannel("stream->detect", 1)
	out := NewChannel("detect->verdict", 1)

	st, err := f.Create(StageSpec{Role: RoleDetect, CPU: 2, Instance: 1, Pipeline: 3, Input: in, Outputs: []*Channel{out}}, Collaborators{Engine: &recordingEngine{}})
	require.NoError(t, err)
	defer st.Close()

	info := st.Info()
	assert.Equal(t, "w3/detect#1", info.Name)
	assert.Equal(t, "detect", info.Role)
	assert.Equal(t, 2, info.CPU)
	assert.Equal(t, "stream->detect", info.Input)
	assert.Equal(t, []string{"detect->verdict"}, info.Outputs)
}

func TestStage_StopDrainsQueueBacklog(t *testing.T) {
	q := queue.NewMemQueue(0, 8)
	defer q.Close()
	f := NewFactory(logging.Discard(), nil, nil)
	out := NewChannel("out", 8)

	st, err := f.Create(StageSpec{Role: RoleReceive, Outputs: []*Channel{out}}, Collaborators{Queue: q})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := q.Inject([]byte{0x45})
		require.NoError(t, err)
	}

	// Stopped before it ever received: the backlog must still come out.
	st.Stop()
	require.NoError(t, st.Run(context.Background()))

	var ids []uint32
	for p := range out.c {
		ids = append(ids, p.ID)
		assert.Same(t, q, p.Source)
	}
	assert.ElementsMatch(t, []uint32{1, 2, 3}, ids)

	_, err = q.Inject([]byte{0x45})
	assert.ErrorIs(t, err, queue.ErrClosed)
	assert.NoError(t, st.Close())
}

func TestNextReceiveBackoff(t *testing.T) {
	assert.Equal(t, receiveBackoffMin, nextReceiveBackoff(0))
	assert.Equal(t, 2*receiveBackoffMin, nextReceiveBackoff(receiveBackoffMin))

	d := time.Duration(0)
	for i := 0; i < 64; i++ {
		d = nextReceiveBackoff(d)
	}
	assert.Equal(t, receiveBackoffMax, d)
}
