package history

import (
	"testing"
	"time"

	"github.com/astraguard/astraguard/internal/decision"
	"github.com/stretchr/testify/require"
)

func TestAppendEvictsOldestBeyondCapacity(t *testing.T) {
	h := New(10000)
	for i := 0; i < 10050; i++ {
		h.Append(decision.AnomalyDecision{DecisionID: idFor(i), Timestamp: time.Unix(int64(i), 0)})
	}
	require.Equal(t, 10000, h.Len())

	all := h.Run(Query{Limit: 1000})
	require.Len(t, all, 1000)
	require.Equal(t, idFor(10049), all[0].DecisionID)

	// Run caps results at MaxQueryLimit, so reach the oldest retained entry
	// through an end-time filter instead of a large limit.
	oldestEnd := time.Unix(50, 0)
	full := h.Run(Query{EndTime: &oldestEnd})
	require.Equal(t, idFor(50), full[len(full)-1].DecisionID)
}

func idFor(i int) string {
	return time.Unix(int64(i), 0).Format(time.RFC3339Nano)
}

func TestQueryFiltersBySeverityMin(t *testing.T) {
	h := New(10)
	h.Append(decision.AnomalyDecision{DecisionID: "a", SeverityScore: 0.2, Timestamp: time.Unix(1, 0)})
	h.Append(decision.AnomalyDecision{DecisionID: "b", SeverityScore: 0.8, Timestamp: time.Unix(2, 0)})
	min := 0.5
	out := h.Run(Query{SeverityMin: &min})
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].DecisionID)
}
