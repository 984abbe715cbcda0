package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDetection(t *testing.T) {
	before := testutil.ToFloat64(DetectionsObserved.WithLabelValues("high"))
	RecordDetection("high")
	RecordDetection("high")
	after := testutil.ToFloat64(DetectionsObserved.WithLabelValues("high"))
	if after-before != 2 {
		t.Errorf("Expected high counter to grow by 2, grew by %v", after-before)
	}
}

func TestRecordDetectorError(t *testing.T) {
	before := testutil.ToFloat64(DetectorErrors.WithLabelValues("logic"))
	RecordDetectorError("logic")
	if got := testutil.ToFloat64(DetectorErrors.WithLabelValues("logic")); got-before != 1 {
		t.Errorf("Expected logic counter to grow by 1, grew by %v", got-before)
	}
}
