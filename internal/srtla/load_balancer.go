package srtla

const weightHysteresis = 0.01

// AdjustWeights runs after a quality evaluation (or once per
// ConnQualityEvalPeriodMS if load balancing is disabled) to bucket
// each connection's error points into a weight and derive its ACK
// throttle factor relative to the group's best active connection.
func AdjustWeights(g *Group, nowMS int64) {
	for _, c := range g.Connections {
		c.WeightPercent = weightBucket(c.ErrorPoints)
	}

	maxWeight := 0
	activeCount := 0
	for _, c := range g.Connections {
		if c.TimedOut(nowMS) {
			continue
		}
		activeCount++
		if c.WeightPercent > maxWeight {
			maxWeight = c.WeightPercent
		}
	}

	if !g.LoadBalancingEnabled || activeCount < 2 {
		for _, c := range g.Connections {
			setThrottle(c, 1.0)
		}
		g.LastLBEval = nowMS
		return
	}

	for _, c := range g.Connections {
		if c.TimedOut(nowMS) {
			continue
		}
		absolute := float64(c.WeightPercent) / 100.0
		relative := 0.0
		if maxWeight > 0 {
			relative = float64(c.WeightPercent) / float64(maxWeight)
		}
		target := absolute
		if relative < target {
			target = relative
		}
		if target < MinAckRate {
			target = MinAckRate
		}
		setThrottle(c, target)
	}
	g.LastLBEval = nowMS
}

func setThrottle(c *Connection, target float64) {
	if abs(target-c.AckThrottleFactor) < weightHysteresis {
		return
	}
	c.AckThrottleFactor = target
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func weightBucket(errorPoints int) int {
	switch {
	case errorPoints >= 40:
		return WeightCritical
	case errorPoints >= 25:
		return WeightPoor
	case errorPoints >= 15:
		return WeightFair
	case errorPoints >= 10:
		return WeightDegraded
	case errorPoints >= 5:
		return WeightExcellent
	default:
		return WeightFull
	}
}
