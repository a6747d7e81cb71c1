package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/flexyledger/internal/domain"
)

func TestStatusLabel(t *testing.T) {
	for _, s := range []domain.Status{domain.StatusPending, domain.StatusSent, domain.StatusFailed, domain.StatusRejected, domain.StatusExpired} {
		require.Equal(t, string(s), StatusLabel(s))
	}
	for _, s := range []domain.Status{"Processing", "queued-7f3a", " ", "SENT!"} {
		require.Equal(t, "other", StatusLabel(s))
	}
}

func TestObserveTopup_CollapsesUnknownStatuses(t *testing.T) {
	before := testutil.CollectAndCount(TopupRequests)
	other := testutil.ToFloat64(TopupRequests.WithLabelValues("djezzy", "other"))

	for _, s := range []domain.Status{"queued-1", "queued-2", "queued-3"} {
		ObserveTopup("djezzy", s)
	}

	require.Equal(t, other+3, testutil.ToFloat64(TopupRequests.WithLabelValues("djezzy", "other")))
	require.LessOrEqual(t, testutil.CollectAndCount(TopupRequests), before+1)
}
