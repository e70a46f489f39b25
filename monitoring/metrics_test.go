package monitoring

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPnLAcceptsLosses(t *testing.T) {
	RecordPnL(42, "BTCUSDT", 5.14)
	RecordPnL(42, "BTCUSDT", -3.20)

	got := testutil.ToFloat64(realizedPnL.WithLabelValues("42", "BTCUSDT"))
	assert.InDelta(t, 1.94, got, 1e-9)
}

func TestRecordPnLNetLoss(t *testing.T) {
	// A bot that only ever loses must not panic the recording path.
	RecordPnL(43, "ETHUSDT", -7.5)

	got := testutil.ToFloat64(realizedPnL.WithLabelValues("43", "ETHUSDT"))
	assert.InDelta(t, -7.5, got, 1e-9)
}
