package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/formulabar/internal/transport"
	"github.com/BaSui01/formulabar/lsp"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// 编译期检查
var (
	_ transport.RoundTripObserver = (*Collector)(nil)
	_ lsp.Observer                = (*Collector)(nil)
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.roundTripsTotal)
	assert.NotNil(t, collector.roundTripDuration)
	assert.NotNil(t, collector.inboundMessages)
	assert.NotNil(t, collector.failOpenTotal)
	assert.NotNil(t, collector.pendingRequests)
}

func TestNewCollector_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() { NewCollector(nextTestNamespace(), nil) })
}

func TestCollector_ObserveRoundTrip(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveRoundTrip("lsp", "ok", 20*time.Millisecond)
	collector.ObserveRoundTrip("lsp", "ok", 30*time.Millisecond)
	collector.ObserveRoundTrip("eval", "error", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.roundTripsTotal.WithLabelValues("lsp", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.roundTripsTotal.WithLabelValues("eval", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.roundTripDuration))
}

func TestCollector_SessionMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveInbound("notification")
	collector.ObserveInbound("notification")
	collector.ObserveInbound("malformed")
	collector.ObserveFailOpen(lsp.MethodCompletion, "timeout")
	collector.ObservePending(3)
	collector.ObservePending(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.inboundMessages.WithLabelValues("notification")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.inboundMessages.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.failOpenTotal.WithLabelValues(lsp.MethodCompletion, "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.pendingRequests))
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.ObserveRoundTrip("lsp", "ok", time.Millisecond)
			collector.ObserveInbound("response")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, testutil.ToFloat64(collector.roundTripsTotal.WithLabelValues("lsp", "ok")))
	assert.Equal(t, 50.0, testutil.ToFloat64(collector.inboundMessages.WithLabelValues("response")))
}
