package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.ObservePayment("yookassa", "processed")
	m.ObserveTask("broadcast", "ok", time.Second)
	m.ObserveWebhook("200", time.Millisecond)
}

func TestObservePaymentCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("club", reg)

	m.ObservePayment("yookassa", "processed")
	m.ObservePayment("yookassa", "processed")
	m.ObservePayment("yookassa", "duplicate")

	if got := testutil.ToFloat64(m.PaymentEvents.WithLabelValues("yookassa", "processed")); got != 2 {
		t.Fatalf("processed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PaymentEvents.WithLabelValues("yookassa", "duplicate")); got != 1 {
		t.Fatalf("duplicate = %v, want 1", got)
	}
}
