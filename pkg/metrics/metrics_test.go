package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/devicelab-dev/uirunner/pkg/core"
)

func TestRecordTest(t *testing.T) {
	before := testutil.ToFloat64(testsTotal.WithLabelValues("broken"))
	RecordTest(core.StatusBroken)
	RecordTest(core.StatusBroken)
	assert.Equal(t, before+2, testutil.ToFloat64(testsTotal.WithLabelValues("broken")))
}

func TestRecordStep(t *testing.T) {
	before := testutil.ToFloat64(stepsTotal.WithLabelValues("passed"))
	RecordStep(core.StatusPassed)
	assert.Equal(t, before+1, testutil.ToFloat64(stepsTotal.WithLabelValues("passed")))
}

func TestSetDevices(t *testing.T) {
	SetDevices(2, 3, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(devices.WithLabelValues("free")))
	assert.Equal(t, 3.0, testutil.ToFloat64(devices.WithLabelValues("leased")))
	assert.Equal(t, 1.0, testutil.ToFloat64(devices.WithLabelValues("blocked")))
}

func TestWorkerBusy(t *testing.T) {
	before := testutil.ToFloat64(busyWorkers)
	WorkerBusy(1)
	assert.Equal(t, before+1, testutil.ToFloat64(busyWorkers))
	WorkerBusy(-1)
	assert.Equal(t, before, testutil.ToFloat64(busyWorkers))
}

func TestObserveLeaseWait(t *testing.T) {
	// just test that it doesn't panic
	ObserveLeaseWait(250 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(leaseWait))
}
