package srtla

// ConnMetrics holds the monotonic cumulative counters for one
// connection plus the snapshot taken at the last quality evaluation,
// used to compute rates over the evaluation period.
type ConnMetrics struct {
	Bytes        uint64
	Packets      uint64
	PacketsLost  uint64
	NackCount    uint64

	LastBytes       uint64
	LastPackets     uint64
	LastPacketsLost uint64
	LastEvalTimeMS  int64

	// LastKbps and LastLossRatio cache the rates computed at the most
	// recent quality evaluation, so observers outside the evaluator
	// (the admin dashboard, the Redis publisher) can read them without
	// re-deriving against an already-advanced baseline.
	LastKbps      float64
	LastLossRatio float64
}

// OnPacketReceived records one accepted SRT data datagram of the
// given length.
func (m *ConnMetrics) OnPacketReceived(length int) {
	m.Bytes += uint64(length)
	m.Packets++
}

// OnNakDetected records a NAK carrying nackCount lost-sequence
// entries.
func (m *ConnMetrics) OnNakDetected(nackCount int) {
	m.PacketsLost += uint64(nackCount)
	m.NackCount++
}

// Snapshot captures the current cumulative counters as the baseline
// for the next rate computation.
func (m *ConnMetrics) Snapshot(nowMS int64) {
	m.LastBytes = m.Bytes
	m.LastPackets = m.Packets
	m.LastPacketsLost = m.PacketsLost
	m.LastEvalTimeMS = nowMS
}

// RatesSince returns (kbit/s, loss ratio) measured between the last
// snapshot and now. elapsedSeconds must be > 0; EvaluateGroup passes
// the nominal ConnQualityEvalPeriodMS for a connection with no elapsed
// time since its snapshot.
func (m *ConnMetrics) RatesSince(elapsedSeconds float64) (kbps float64, lossRatio float64) {
	bytesDiff := float64(m.Bytes - m.LastBytes)
	packetsDiff := float64(m.Packets - m.LastPackets)
	lostDiff := float64(m.PacketsLost - m.LastPacketsLost)

	kbps = (bytesDiff * 8 / 1000) / elapsedSeconds
	if packetsDiff+lostDiff > 0 {
		lossRatio = lostDiff / (packetsDiff + lostDiff)
	}
	return kbps, lossRatio
}
