package em_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libem/em"
)

func TestMachineStartSendStop(t *testing.T) {
	cfg := em.DefaultConfig()
	cfg.Cores = 2
	m, err := em.New(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	mock := em.NewMockEO()
	eh, err := m.CreateEO(mock.Receive)
	require.NoError(t, err)
	require.NoError(t, m.StartEO(eh))

	qh, err := m.CreateQueue(em.DisciplineAtomic, 0)
	require.NoError(t, err)
	require.NoError(t, m.BindQueue(qh, eh))
	require.NoError(t, m.EnableQueue(qh))

	ev, err := m.AllocEvent(16)
	require.NoError(t, err)
	copy(ev.Payload, []byte("hello"))
	require.NoError(t, m.Send(qh, ev.Handle))

	require.Eventually(t, func() bool {
		return mock.Calls() == 1
	}, time.Second, time.Millisecond)

	assert.Equal(t, []em.EventHandle{ev.Handle}, mock.Events())
	assert.Equal(t, uint32(qh), mock.LastHeader().SrcQueue, "the receive callback must observe its own queue as src_q_elem")
}

func TestMachineStartTwiceFails(t *testing.T) {
	m, err := em.New(em.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	err = m.Start()
	require.Error(t, err)
	assert.True(t, em.IsKind(err, em.ErrKindBadState))
}

func TestMachineMetricsRecordDispatch(t *testing.T) {
	cfg := em.DefaultConfig()
	cfg.Cores = 1
	m, err := em.New(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	defer m.Stop()

	mock := em.NewMockEO()
	eh, err := m.CreateEO(mock.Receive)
	require.NoError(t, err)
	require.NoError(t, m.StartEO(eh))

	qh, err := m.CreateQueue(em.DisciplineParallel, 0)
	require.NoError(t, err)
	require.NoError(t, m.BindQueue(qh, eh))
	require.NoError(t, m.EnableQueue(qh))

	for i := 0; i < 10; i++ {
		ev, err := m.AllocEvent(0)
		require.NoError(t, err)
		require.NoError(t, m.Send(qh, ev.Handle))
	}

	require.Eventually(t, func() bool {
		return mock.Calls() == 10
	}, 2*time.Second, time.Millisecond)

	snap := m.Metrics().Snapshot()
	assert.Equal(t, uint64(10), snap.TotalDispatched)
}
