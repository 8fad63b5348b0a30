package groupmask

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSetClearHas(t *testing.T) {
	var m Mask
	assert.False(t, m.Has(3))

	m = m.Set(3)
	assert.True(t, m.Has(3))
	assert.False(t, m.Has(4))

	m = m.Clear(3)
	assert.False(t, m.Has(3))
}

func TestTableCreateLookupModifyDelete(t *testing.T) {
	tbl := NewTable()

	assert.Equal(t, Mask(0), tbl.Lookup(1))

	assert.True(t, tbl.Create(1, Mask(0).Set(0).Set(1)))
	assert.False(t, tbl.Create(1, Mask(0)), "creating an existing group must fail")

	m := tbl.Lookup(1)
	assert.True(t, m.Has(0))
	assert.True(t, m.Has(1))
	assert.False(t, m.Has(2))

	assert.True(t, tbl.Modify(1, Mask(0).Set(2)))
	m = tbl.Lookup(1)
	assert.False(t, m.Has(0))
	assert.True(t, m.Has(2))

	assert.False(t, tbl.Modify(99, Mask(0)), "modifying a missing group must fail")

	assert.True(t, tbl.Delete(1))
	assert.Equal(t, Mask(0), tbl.Lookup(1))
	assert.False(t, tbl.Delete(1), "deleting twice must fail")
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	tbl := NewTable()
	assert.True(t, tbl.Create(1, Mask(0).Set(0)))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			tbl.Modify(1, Mask(0).Set(i%60))
		}
	}()

	for i := 0; i < 10000; i++ {
		_ = tbl.Lookup(1)
	}
	close(stop)
	wg.Wait()
}
