package crdt

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/peersync/internal/models"
)

func TestGlobalClock_NextDoesNotAdvance(t *testing.T) {
	gc := NewGlobalClock("A")

	next, err := gc.Next()
	require.NoError(t, err)
	assert.Equal(t, models.VectorClock{"A": 1}, next)
	assert.Equal(t, uint64(0), gc.Counter())

	gc.Observe(next)
	assert.Equal(t, uint64(1), gc.Counter())
	next, err = gc.Next()
	require.NoError(t, err)
	assert.Equal(t, models.VectorClock{"A": 2}, next)
}

func TestGlobalClock_NextOverflow(t *testing.T) {
	gc := NewGlobalClock("A")
	gc.Observe(models.VectorClock{"A": math.MaxUint64})

	next, err := gc.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.Nil(t, next)
	assert.Equal(t, uint64(math.MaxUint64), gc.Counter())
}

func TestGlobalClock_ObserveTakesMaximum(t *testing.T) {
	gc := NewGlobalClock("A")
	gc.Observe(models.VectorClock{"A": 2, "B": 5})
	gc.Observe(models.VectorClock{"B": 3, "C": 1})

	assert.Equal(t, models.VectorClock{"A": 2, "B": 5, "C": 1}, gc.Snapshot())
}

func TestGlobalClock_SnapshotIsCopy(t *testing.T) {
	gc := NewGlobalClock("A")
	snap := gc.Snapshot()
	snap["A"] = 100

	assert.Equal(t, uint64(0), gc.Counter())
}

func TestGlobalClock_Concurrent(t *testing.T) {
	gc := NewGlobalClock("A")

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			gc.Observe(models.VectorClock{"B": v})
			_ = gc.Snapshot()
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, uint64(50), gc.Snapshot()["B"])
	assert.Equal(t, "A", gc.DeviceID())
}
