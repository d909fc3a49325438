package batch

import (
	"pricewatch/internal/model"
	"pricewatch/internal/sysmon"
)

const (
	minBatchSize = 10
	maxBatchSize = 100
)

// ComputeBatchSize adapts the next batch's size to live system load, a
// network capacity signal, and the trailing success rate. The result
// is always within [10, 100], whatever the inputs.
func ComputeBatchSize(base int, monitor sysmon.Sampler, netSignal float64, history []model.BatchMetrics) int {
	size := float64(base)
	if size <= 0 {
		size = 30
	}

	if monitor != nil {
		if mem := monitor.MemoryPercent(); mem > 80 {
			// Shrink proportionally to the remaining headroom.
			headroom := (100 - mem) / 20
			if headroom < 0 {
				headroom = 0
			}
			size *= headroom
		}
		if monitor.CPUPercent() > 90 {
			size *= 0.5
		}
	}

	if netSignal > 1.0 {
		size *= netSignal
	}

	if rate, ok := trailingSuccessRate(history, 5); ok && rate < 0.8 {
		size *= 0.8
	}

	n := int(size)
	if n < minBatchSize {
		n = minBatchSize
	}
	if n > maxBatchSize {
		n = maxBatchSize
	}
	return n
}

// trailingSuccessRate averages the last n batch success rates.
func trailingSuccessRate(history []model.BatchMetrics, n int) (float64, bool) {
	if len(history) == 0 {
		return 0, false
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	var sum float64
	for _, m := range history {
		sum += m.SuccessRate
	}
	return sum / float64(len(history)), true
}
