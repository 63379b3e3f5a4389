/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLedgerCrossingCeilingFlagsSession(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.StartSession("s1", 1.00))

	for _, cost := range []float64{0.40, 0.40, 0.40} {
		l.Add("s1", cost)
	}

	require.True(t, l.Exceeded("s1"))
	e, ok := l.Snapshot("s1")
	require.True(t, ok)
	require.InDelta(t, 1.20, e.SpentUSD, 1e-9)
	require.True(t, e.CostLimitHit)
}

func TestLedgerUnderCeiling(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.StartSession("s1", 1.00))
	l.Add("s1", 0.99)

	require.False(t, l.Exceeded("s1"))
	e, _ := l.Snapshot("s1")
	require.False(t, e.CostLimitHit)
	require.LessOrEqual(t, e.SpentUSD, e.CeilingUSD)
}

func TestLedgerIgnoresNonPositiveAndUntracked(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.StartSession("s1", 1.00))

	l.Add("s1", 0)
	l.Add("s1", -0.5)
	l.Add("ghost", 10)

	e, _ := l.Snapshot("s1")
	require.Zero(t, e.SpentUSD)
	require.False(t, l.Exceeded("ghost"))
}

func TestLedgerDuplicateSession(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.StartSession("s1", 1.00))
	require.Error(t, l.StartSession("s1", 2.00))
	require.Error(t, l.StartSession("s2", 0))
}

func TestLedgerConcurrentAdds(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.StartSession("s1", 100))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Add("s1", 0.01)
		}()
	}
	wg.Wait()

	e, _ := l.Snapshot("s1")
	require.InDelta(t, 0.50, e.SpentUSD, 1e-9)
}
