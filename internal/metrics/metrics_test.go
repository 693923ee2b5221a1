package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Counters(t *testing.T) {
	r := NewRegistry()

	r.IncrementCounter(RelayEventsTotal, map[string]string{"event": "hangup", "result": "delivered"}, "")
	r.IncrementCounter(RelayEventsTotal, map[string]string{"result": "delivered", "event": "hangup"}, "")
	r.AddToCounter(RelayEventsTotal, 3, map[string]string{"event": "hangup", "result": "target_offline"}, "")

	assert.Equal(t, float64(2), r.CounterValue(RelayEventsTotal, map[string]string{"event": "hangup", "result": "delivered"}))
	assert.Equal(t, float64(3), r.CounterValue(RelayEventsTotal, map[string]string{"event": "hangup", "result": "target_offline"}))
	assert.Equal(t, float64(0), r.CounterValue(RelayEventsTotal, map[string]string{"event": "typing"}))
}

func TestRegistry_Gauges(t *testing.T) {
	r := NewRegistry()

	r.SetGauge(OnlineUsers, 4, nil, "")
	r.SetGauge(OnlineUsers, 2, nil, "")
	assert.Equal(t, float64(2), r.GaugeValue(OnlineUsers, nil))
}

func TestRegistry_Timers(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 20; i++ {
		r.RecordTimer(WSEventDuration, time.Duration(i)*time.Millisecond, map[string]string{"event": "call-user"}, "")
	}

	all := r.GetAllMetrics()
	timers, ok := all["timers"].(map[string]TimerMetric)
	require.True(t, ok)

	timer, ok := timers[metricKey(WSEventDuration, map[string]string{"event": "call-user"})]
	require.True(t, ok)
	assert.Equal(t, int64(20), timer.Count)
	assert.Equal(t, float64(1), timer.Min)
	assert.Equal(t, float64(20), timer.Max)
	assert.InDelta(t, 10.5, timer.Average, 0.001)
	assert.Equal(t, float64(20), timer.P95)
}

func TestMetricKey_StableOrder(t *testing.T) {
	a := metricKey("m", map[string]string{"b": "2", "a": "1", "c": "3"})
	b := metricKey("m", map[string]string{"c": "3", "a": "1", "b": "2"})
	assert.Equal(t, "m_a:1_b:2_c:3", a)
	assert.Equal(t, a, b)
	assert.Equal(t, "m", metricKey("m", nil))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.IncrementCounter(WSEventsTotal, map[string]string{"event": "typing"}, "")
			r.SetGauge(WSSessionsActive, 1, nil, "")
			_ = r.GetAllMetrics()
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(50), r.CounterValue(WSEventsTotal, map[string]string{"event": "typing"}))
}
