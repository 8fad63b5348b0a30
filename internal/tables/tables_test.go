package tables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libem/em/internal/event"
	"github.com/libem/em/internal/eo"
	"github.com/libem/em/internal/queues"
)

func TestInitGlobalInstallsDefaultQueueGroup(t *testing.T) {
	g, err := InitGlobal(Config{Cores: 4, MaxEvents: 16, MaxQueues: 16, MaxEOs: 16, MaxEventGroups: 16})
	require.NoError(t, err)

	mask := g.Masks.Lookup(DefaultQueueGroup)
	for c := 0; c < 4; c++ {
		assert.True(t, mask.Has(c))
	}
	assert.False(t, mask.Has(4))
}

func TestInitGlobalRejectsBadConfig(t *testing.T) {
	_, err := InitGlobal(Config{Cores: 0})
	assert.Error(t, err)

	_, err = InitGlobal(Config{Cores: 1, MaxEvents: 0})
	assert.Error(t, err)
}

func TestCreateQueueDefaultsToDefaultGroup(t *testing.T) {
	g, err := InitGlobal(Config{Cores: 2, MaxEvents: 8, MaxQueues: 8, MaxEOs: 8, MaxEventGroups: 8})
	require.NoError(t, err)

	q, err := g.CreateQueue(queues.Atomic, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultQueueGroup), q.Group())

	got, ok := g.Queue(q.Handle)
	require.True(t, ok)
	assert.Same(t, q, got)
}

func TestQueueTableFullRejectsAlloc(t *testing.T) {
	g, err := InitGlobal(Config{Cores: 1, MaxEvents: 8, MaxQueues: 1, MaxEOs: 8, MaxEventGroups: 8})
	require.NoError(t, err)

	_, err = g.CreateQueue(queues.Atomic, 0)
	require.NoError(t, err)
	_, err = g.CreateQueue(queues.Atomic, 0)
	assert.Error(t, err)
}

func TestQueuesForCoreFiltersByMask(t *testing.T) {
	g, err := InitGlobal(Config{Cores: 4, MaxEvents: 8, MaxQueues: 8, MaxEOs: 8, MaxEventGroups: 8})
	require.NoError(t, err)

	q, err := g.CreateQueue(queues.Atomic, 0)
	require.NoError(t, err)

	qh := g.NextQueueGroup()
	require.True(t, g.Masks.Create(qh, 0))
	q.SetGroup(qh)

	assert.False(t, containsQueue(g.QueuesForCore(0), q.Handle))

	require.True(t, g.Masks.Modify(qh, 1<<2))
	assert.True(t, containsQueue(g.QueuesForCore(2), q.Handle))
	assert.False(t, containsQueue(g.QueuesForCore(0), q.Handle))
}

func containsQueue(qs []*queues.Element, handle uint32) bool {
	for _, q := range qs {
		if q.Handle == handle {
			return true
		}
	}
	return false
}

func TestSendDeliversToQueueByHandle(t *testing.T) {
	g, err := InitGlobal(Config{Cores: 1, MaxEvents: 8, MaxQueues: 8, MaxEOs: 8, MaxEventGroups: 8})
	require.NoError(t, err)

	q, err := g.CreateQueue(queues.Parallel, 0)
	require.NoError(t, err)

	ev, err := g.Events.Alloc(16)
	require.NoError(t, err)

	require.NoError(t, g.Send(q.Handle, ev.Handle))

	h, _, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, ev.Handle, h)
}

func TestSendStampsSourceQueueOnHeader(t *testing.T) {
	g, err := InitGlobal(Config{Cores: 1, MaxEvents: 8, MaxQueues: 8, MaxEOs: 8, MaxEventGroups: 8})
	require.NoError(t, err)

	q, err := g.CreateQueue(queues.Atomic, 0)
	require.NoError(t, err)

	ev, err := g.Events.Alloc(8)
	require.NoError(t, err)

	require.NoError(t, q.Send(ev.Handle))

	got, err := g.Events.Get(ev.Handle)
	require.NoError(t, err)
	assert.Equal(t, q.Handle, got.Header.SrcQueue)
}

func TestEOTableRoundTrip(t *testing.T) {
	g, err := InitGlobal(Config{Cores: 1, MaxEvents: 8, MaxQueues: 8, MaxEOs: 1, MaxEventGroups: 8})
	require.NoError(t, err)

	e, err := g.CreateEO(func(eo.Context, *event.Event) error { return nil }, eo.Options{})
	require.NoError(t, err)

	_, err = g.CreateEO(func(eo.Context, *event.Event) error { return nil }, eo.Options{})
	assert.Error(t, err, "EO table full")

	got, ok := g.EO(e.Handle)
	require.True(t, ok)
	assert.Same(t, e, got)

	require.NoError(t, g.DeleteEO(e.Handle))
	_, ok = g.EO(e.Handle)
	assert.False(t, ok)
}
