package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordVerificationLabels(t *testing.T) {
	before := testutil.ToFloat64(Verifications.WithLabelValues("failed"))
	RecordVerification(false)
	RecordVerification(true)
	if got := testutil.ToFloat64(Verifications.WithLabelValues("failed")); got != before+1 {
		t.Fatalf("expected failed counter %v, got %v", before+1, got)
	}
}

func TestRecordGeneratedIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(CombinationsGenerated)
	RecordGenerated(0)
	RecordGenerated(3)
	if got := testutil.ToFloat64(CombinationsGenerated); got != before+3 {
		t.Fatalf("expected %v, got %v", before+3, got)
	}
}
