package register

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestStatisticsSnapshotConsistent(t *testing.T) {
	var s RequestStatistics
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.countRequest(i%3 == 0)
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(100), snap.Total)
	assert.LessOrEqual(t, snap.Failed, snap.Total)
	assert.Equal(t, s.Total(), snap.Total)
	assert.Equal(t, s.Failed(), snap.Failed)
}

func TestRequestStatisticsReset(t *testing.T) {
	var s RequestStatistics
	s.countRequest(true)
	s.countRequest(false)
	s.Reset()
	assert.Equal(t, int64(0), s.Total())
	assert.Equal(t, int64(0), s.Failed())
}
