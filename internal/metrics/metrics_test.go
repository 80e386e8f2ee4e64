package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSendRecordsResultLabel(t *testing.T) {
	t.Parallel()

	ObserveSend("metrics_test_channel", true, 20*time.Millisecond)
	ObserveSend("metrics_test_channel", false, 20*time.Millisecond)
	ObserveSend("metrics_test_channel", false, 20*time.Millisecond)

	if got := testutil.CollectAndCount(NotificationSendDuration); got < 2 {
		t.Fatalf("expected at least two series, got %d", got)
	}
}

func TestCounterDescribesNamespacedName(t *testing.T) {
	t.Parallel()

	counter := AlertsTriggered.WithLabelValues("metrics_test", "low")
	counter.Inc()
	if got := testutil.ToFloat64(counter); got != 1 {
		t.Fatalf("unexpected counter value: %v", got)
	}
	if desc := counter.Desc().String(); !strings.Contains(desc, "sitealert_alerts_triggered_total") {
		t.Fatalf("unexpected metric name: %s", desc)
	}
}
