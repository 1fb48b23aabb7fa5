package executor

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSplitBranch_Deterministic(t *testing.T) {
	ratios := []int{50, 50}

	first := splitBranch("enrollment-1", "split-step", ratios)

	for range 100 {
		assert.Equal(t, first, splitBranch("enrollment-1", "split-step", ratios))
	}
}

func TestSplitBranch_Distribution(t *testing.T) {
	ratios := []int{50, 50}
	counts := make([]int, 2)

	const total = 10000

	for i := range total {
		counts[splitBranch(fmt.Sprintf("enrollment-%d", i), "split-step", ratios)]++
	}

	assert.Equal(t, total, counts[0]+counts[1])

	// Hash buckets are uniform enough that 50/50 holds within a few percent.
	assert.InDelta(t, total/2, counts[0], total*0.05)
}

func TestSplitBranch_WeightedRatios(t *testing.T) {
	ratios := []int{10, 90}
	counts := make([]int, 2)

	const total = 10000

	for i := range total {
		counts[splitBranch(fmt.Sprintf("enrollment-%d", i), "split-step", ratios)]++
	}

	assert.InDelta(t, total/10, counts[0], total*0.03)
}

func TestRetryDelay_Grows(t *testing.T) {
	first := retryDelay(1)
	second := retryDelay(2)
	third := retryDelay(3)

	assert.Equal(t, 30*time.Second, first)
	assert.Greater(t, second, first)
	assert.Greater(t, third, second)
	assert.LessOrEqual(t, retryDelay(20), retryMaxInterval)
}
