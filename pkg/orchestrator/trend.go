package orchestrator

// Trend describes the recent direction of a session's score history.
type Trend string

// Trend values.
const (
	TrendImproving        Trend = "improving"
	TrendStagnant         Trend = "stagnant"
	TrendOscillating      Trend = "oscillating"
	TrendInsufficientData Trend = "insufficient_data"
)

// ConvergenceTrend classifies score_history using the loop guard's
// stagnation window and threshold. Fewer than window+1 entries cannot
// support a judgment.
func ConvergenceTrend(history []int, window, threshold int) Trend {
	if len(history) < window+1 {
		return TrendInsufficientData
	}

	recent := history[len(history)-window-1:]
	deltas := make([]int, 0, window)
	for i := 1; i < len(recent); i++ {
		deltas = append(deltas, recent[i]-recent[i-1])
	}

	allSmall := true
	for _, d := range deltas {
		if abs(d) >= threshold {
			allSmall = false
			break
		}
	}
	if allSmall {
		return TrendStagnant
	}

	if len(deltas) >= 2 {
		a, b := deltas[len(deltas)-2], deltas[len(deltas)-1]
		if (a > 0 && b < 0) || (a < 0 && b > 0) {
			return TrendOscillating
		}
	}

	if recent[len(recent)-1]-recent[0] > 0 {
		return TrendImproving
	}
	return TrendStagnant
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
