package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePool struct{}

func (fakePool) GetWorkerCount() int   { return 4 }
func (fakePool) ActiveJobCount() int   { return 1 }
func (fakePool) GetQueueCapacity() int { return 8 }

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{512, "512 Bytes"},
		{2048, "2.00 KB"},
		{5 * 1024 * 1024, "5.00 MB"},
		{3 * 1024 * 1024 * 1024, "3.00 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestGetSystemStats(t *testing.T) {
	stats := GetSystemStats(fakePool{}, 3)
	assert.Positive(t, stats.NumCPU)
	assert.Equal(t, 4, stats.WorkerCount)
	assert.Equal(t, 1, stats.ActiveJobs)
	assert.Equal(t, 8, stats.QueueCapacity)
	assert.Equal(t, 3, stats.ActiveSessions)
	assert.NotEmpty(t, stats.MemoryAllocText)

	stats = GetSystemStats(nil, 0)
	assert.Zero(t, stats.WorkerCount)
}
