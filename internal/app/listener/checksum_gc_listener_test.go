package listener

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/internal/pkg/event"
	"github.com/ByteCrister/bd-travel-spirit-support-system-sub005/pkg/service/asset"
)

type countingDispatcher struct {
	calls atomic.Int32
}

func (d *countingDispatcher) DispatchChecksumGC() bool {
	d.calls.Add(1)
	return true
}

func TestChecksumGCListener(t *testing.T) {
	bus := event.NewEventBus(nil)
	defer bus.Shutdown()
	dispatcher := &countingDispatcher{}
	NewChecksumGCListener(bus, dispatcher, nil)

	assert.True(t, bus.Publish(event.ChecksumOrphaned, asset.OrphanEventPayload{Checksum: "abc", ObjectKey: "assets/ab/abc"}))
	assert.Eventually(t, func() bool { return dispatcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// 负载类型错误时忽略
	bus.Publish(event.ChecksumOrphaned, "abc")
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), dispatcher.calls.Load())
}
