package srtla

import (
	"log"
	"sort"
)

// Quality-evaluation tuning constants, verbatim from the scoring
// contract.
const (
	GoodConnectionThreshold       = 0.5
	MinAcceptableTotalBandwidthKbps = 100.0 // /conn_count floor source value
	minBandwidthFloorKbps            = 100.0

	rttJitterThresholdMicros = 50000
)

// EvaluateGroup runs one pass of the quality evaluator over every
// member connection, skipping those still inside their startup grace
// period. Each connection's rates are measured over the time since its
// last Snapshot; a connection that has never been snapshotted, or has
// no elapsed time since its snapshot, is measured over the nominal
// ConnQualityEvalPeriodMS instead.
func EvaluateGroup(g *Group, nowMS int64) {
	type sample struct {
		conn *Connection
		kbps float64
		loss float64
	}

	samples := make([]sample, 0, len(g.Connections))
	var allKbps []float64

	for _, c := range g.Connections {
		elapsedSeconds := float64(ConnQualityEvalPeriodMS) / 1000.0
		if c.Metrics.LastEvalTimeMS != 0 && nowMS > c.Metrics.LastEvalTimeMS {
			elapsedSeconds = float64(nowMS-c.Metrics.LastEvalTimeMS) / 1000.0
		}
		kbps, loss := c.Metrics.RatesSince(elapsedSeconds)
		c.Metrics.LastKbps = kbps
		c.Metrics.LastLossRatio = loss
		samples = append(samples, sample{conn: c, kbps: kbps, loss: loss})
		allKbps = append(allKbps, kbps)
	}

	maxKbps := 0.0
	for _, k := range allKbps {
		if k > maxKbps {
			maxKbps = k
		}
	}

	var goodKbps []float64
	for _, k := range allKbps {
		if k >= GoodConnectionThreshold*maxKbps {
			goodKbps = append(goodKbps, k)
		}
	}
	reference := median(goodKbps)
	if len(goodKbps) == 0 {
		reference = median(allKbps)
	}

	connCount := len(g.Connections)

	for _, s := range samples {
		c := s.conn
		if c.InGrace(nowMS) {
			c.ErrorPoints = 0
			c.Metrics.Snapshot(nowMS)
			c.Telemetry.LastNakCount = c.Telemetry.NakCount
			continue
		}

		c.ErrorPoints = 0

		floor := minBandwidthFloorKbps
		if connCount > 0 && MinAcceptableTotalBandwidthKbps/float64(connCount) > floor {
			floor = MinAcceptableTotalBandwidthKbps / float64(connCount)
		}
		expected := reference
		if expected < floor {
			expected = floor
		}
		if s.kbps < reference*GoodConnectionThreshold {
			expected = floor
		}

		performanceRatio := 0.0
		if expected > 0 {
			performanceRatio = s.kbps / expected
		}

		c.ErrorPoints += bandwidthPenalty(performanceRatio)
		c.ErrorPoints += lossPenalty(s.loss)

		if c.TelemetryFresh(nowMS) {
			c.ErrorPoints += telemetryPenalty(c)
			receiverBps := s.kbps * 1000 / 8
			if diverged, senderBps := ValidateBitrate(c, receiverBps); diverged {
				log.Printf("srtla: %s sender-reported bitrate %.0f B/s diverges from measured %.0f B/s", c.Addr, senderBps, receiverBps)
			}
		}

		c.Metrics.Snapshot(nowMS)
		c.Telemetry.LastNakCount = c.Telemetry.NakCount
	}

	g.LastQualityEval = nowMS
}

func bandwidthPenalty(ratio float64) int {
	switch {
	case ratio < 0.30:
		return 40
	case ratio < 0.50:
		return 25
	case ratio < 0.70:
		return 15
	case ratio < 0.85:
		return 5
	default:
		return 0
	}
}

func lossPenalty(ratio float64) int {
	switch {
	case ratio > 0.20:
		return 40
	case ratio > 0.10:
		return 20
	case ratio > 0.05:
		return 10
	case ratio > 0.01:
		return 5
	default:
		return 0
	}
}

func telemetryPenalty(c *Connection) int {
	points := 0
	rtt := c.Telemetry.RTTMicros
	switch {
	case rtt > 500000:
		points += 20
	case rtt > 200000:
		points += 10
	case rtt > 100000:
		points += 5
	}
	if c.Telemetry.RTTStdDevMicros() > rttJitterThresholdMicros {
		points += 10
	}

	nakRate := nakRateOverPeriod(c)
	switch {
	case nakRate > 0.20:
		points += 40
	case nakRate > 0.10:
		points += 20
	case nakRate > 0.05:
		points += 10
	case nakRate > 0.01:
		points += 5
	}

	if c.Telemetry.Window > 0 && float64(c.Telemetry.InFlight)/float64(c.Telemetry.Window) > 0.95 {
		points += 15
	}

	return points
}

// nakRateOverPeriod approximates the sender-reported NAK rate as a
// fraction of packets sent during the evaluation period; without a
// sender-reported packet-sent counter this uses the receiver's own
// packet count as the denominator, consistent with how the receiver
// observes the link.
func nakRateOverPeriod(c *Connection) float64 {
	packetsDiff := c.Metrics.Packets - c.Metrics.LastPackets
	if packetsDiff == 0 {
		return 0
	}
	nakDiff := float64(c.Telemetry.NakCount - c.Telemetry.LastNakCount)
	return nakDiff / float64(packetsDiff)
}

// ValidateBitrate reports whether the sender-reported bitrate and the
// receiver-measured bitrate diverge by more than 20%; EvaluateGroup
// logs a warning when they do. This is informational only and never
// contributes error points.
func ValidateBitrate(c *Connection, receiverBps float64) (diverged bool, senderBps float64) {
	senderBps = float64(c.Telemetry.Bitrate)
	if senderBps == 0 {
		return false, 0
	}
	diff := receiverBps - senderBps
	if diff < 0 {
		diff = -diff
	}
	return diff/senderBps > 0.20, senderBps
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
