package eventgroup

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libem/em/internal/event"
)

func TestCreateRejectsDuplicateHandle(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	assert.ErrorIs(t, tbl.Create(1), ErrExists)
}

func TestApplyRejectsNonPositiveCount(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	assert.ErrorIs(t, tbl.Apply(1, 0, nil), ErrBadCount)
	assert.ErrorIs(t, tbl.Apply(1, -3, nil), ErrBadCount)
}

func TestApplyRejectsAlreadyArmedGroup(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	require.NoError(t, tbl.Apply(1, 2, nil))
	assert.ErrorIs(t, tbl.Apply(1, 2, nil), ErrAlreadyApplied)
}

func TestApplyUnknownHandle(t *testing.T) {
	tbl := NewTable()
	assert.ErrorIs(t, tbl.Apply(99, 1, nil), ErrNotFound)
}

func TestCompleteFiresNotifyExactlyOnce(t *testing.T) {
	tbl := NewTable()
	notify := []Notification{{DstQueue: 7, Event: event.Handle(99)}}
	require.NoError(t, tbl.Create(1))
	require.NoError(t, tbl.Apply(1, 3, notify))

	n, done, err := tbl.Complete(1)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, n)

	n, done, err = tbl.Complete(1)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, n)

	n, done, err = tbl.Complete(1)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, notify, n)
}

func TestCompleteUnarmedGroupFails(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	_, _, err := tbl.Complete(1)
	assert.ErrorIs(t, err, ErrNotApplied)
}

func TestCompletedGroupCanBeReArmed(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	require.NoError(t, tbl.Apply(1, 1, []Notification{{DstQueue: 1, Event: 1}}))

	_, done, err := tbl.Complete(1)
	require.NoError(t, err)
	require.True(t, done)

	require.NoError(t, tbl.Apply(1, 1, []Notification{{DstQueue: 2, Event: 2}}))
	n, done, err := tbl.Complete(1)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []Notification{{DstQueue: 2, Event: 2}}, n)
}

func TestCompleteConcurrentFiresExactlyOnce(t *testing.T) {
	tbl := NewTable()
	const count = 200
	require.NoError(t, tbl.Create(1))
	require.NoError(t, tbl.Apply(1, count, []Notification{{DstQueue: 1, Event: 1}}))

	var fired int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, done, err := tbl.Complete(1)
			if err == nil && done {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fired)
}

func TestCompleteUnknownHandle(t *testing.T) {
	tbl := NewTable()
	_, _, err := tbl.Complete(99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteMakesFurtherCompletesFail(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	require.NoError(t, tbl.Apply(1, 2, nil))
	require.NoError(t, tbl.Delete(1))

	_, _, err := tbl.Complete(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUnknownHandle(t *testing.T) {
	tbl := NewTable()
	assert.ErrorIs(t, tbl.Delete(1), ErrNotFound)
}

func TestIncrementGrowsRemainingCount(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	require.NoError(t, tbl.Apply(1, 2, []Notification{{DstQueue: 1, Event: 1}}))

	// Widen the group's fan-in by 3 before any contribution completes; it
	// now takes 5 Completes, not 2, to fire the notification.
	require.NoError(t, tbl.Increment(1, 3))

	for i := 0; i < 4; i++ {
		_, done, err := tbl.Complete(1)
		require.NoError(t, err)
		assert.False(t, done)
	}
	_, done, err := tbl.Complete(1)
	require.NoError(t, err)
	assert.True(t, done, "the 5th completion should fire after Increment widened the count by 3")
}

func TestIncrementUnarmedGroupFails(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	assert.ErrorIs(t, tbl.Increment(1, 1), ErrNotApplied)
}

func TestIncrementUnknownHandle(t *testing.T) {
	tbl := NewTable()
	assert.ErrorIs(t, tbl.Increment(99, 1), ErrNotFound)
}

func TestIncrementAfterDeleteFails(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Create(1))
	require.NoError(t, tbl.Delete(1))
	assert.ErrorIs(t, tbl.Increment(1, 1), ErrNotFound)
}
