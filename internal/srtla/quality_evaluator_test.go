package srtla

import "testing"

func TestEvaluateGroupGracePeriodIsZeroPoints(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	c := NewConnection(udpAddr(1000), 0)
	c.ErrorPoints = 99 // simulate stale points from a prior pass
	g.AddConnection(c)

	EvaluateGroup(g, ConnectionGracePeriodMS-1)

	if c.ErrorPoints != 0 {
		t.Fatalf("a connection still in its grace period must score zero error points, got %d", c.ErrorPoints)
	}
}

func TestEvaluateGroupUpdatesLastQualityEval(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	g.AddConnection(NewConnection(udpAddr(1000), 0))

	EvaluateGroup(g, 12345)

	if g.LastQualityEval != 12345 {
		t.Fatalf("expected LastQualityEval to be stamped with the eval time, got %d", g.LastQualityEval)
	}
}

func TestEvaluateGroupSingleConnectionNoBandwidthPenalty(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	c := NewConnection(udpAddr(1000), ConnectionGracePeriodMS*-2)
	c.Metrics.Bytes = 1_000_000
	c.Metrics.Packets = 1000
	g.AddConnection(c)

	EvaluateGroup(g, ConnectionGracePeriodMS*2)

	// The lone connection is its own reference bandwidth, so the
	// performance ratio is 1.0 and no bandwidth penalty should apply.
	if c.ErrorPoints != 0 {
		t.Fatalf("a solitary healthy connection should score zero error points, got %d", c.ErrorPoints)
	}
}

func TestEvaluateGroupPenalizesUnderperformingConnection(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	createdMS := ConnectionGracePeriodMS * -2
	good := NewConnection(udpAddr(1000), createdMS)
	good.Metrics.Bytes = 10_000_000
	good.Metrics.Packets = 10000
	bad := NewConnection(udpAddr(1001), createdMS)
	bad.Metrics.Bytes = 1_000
	bad.Metrics.Packets = 10
	g.AddConnection(good)
	g.AddConnection(bad)

	EvaluateGroup(g, ConnectionGracePeriodMS*2)

	if bad.ErrorPoints <= good.ErrorPoints {
		t.Fatalf("the starved connection must score worse: good=%d bad=%d", good.ErrorPoints, bad.ErrorPoints)
	}
}

func TestEvaluateGroupCachesRatesOntoMetrics(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	c := NewConnection(udpAddr(1000), ConnectionGracePeriodMS*-2)
	c.Metrics.Bytes = 625_000 // 5,000,000 bits over 5s = 1000 kbps
	g.AddConnection(c)

	EvaluateGroup(g, ConnectionGracePeriodMS*2)

	if c.Metrics.LastKbps <= 0 {
		t.Fatalf("expected LastKbps to be cached with a positive rate, got %f", c.Metrics.LastKbps)
	}
}

func TestNakRateOverPeriodDiffsAgainstLastEvaluation(t *testing.T) {
	c := NewConnection(udpAddr(1000), 0)
	c.Metrics.Packets = 100
	c.Telemetry.NakCount = 50 // accumulated over the connection's whole life

	// First evaluation: no prior snapshot, so the whole cumulative
	// count is "new" this period.
	if rate := nakRateOverPeriod(c); rate != 0.5 {
		t.Fatalf("first evaluation should see the full cumulative NAK count as this period's rate, got %f", rate)
	}
	c.Telemetry.LastNakCount = c.Telemetry.NakCount
	c.Metrics.LastPackets = c.Metrics.Packets

	// A later period with only a couple more NAKs and packets must not
	// inherit the stale cumulative total.
	c.Metrics.Packets += 100
	c.Telemetry.NakCount += 2
	if rate := nakRateOverPeriod(c); rate >= 0.20 {
		t.Fatalf("a quiet later period must not be dragged above the critical tier by old NAKs, got %f", rate)
	}
}

func TestEvaluateGroupSnapshotsNakCountEachPass(t *testing.T) {
	g, _ := NewGroup(GroupID{}, 0)
	c := NewConnection(udpAddr(1000), ConnectionGracePeriodMS*-2)
	c.Telemetry.NakCount = 30
	g.AddConnection(c)

	EvaluateGroup(g, ConnectionGracePeriodMS*2)

	if c.Telemetry.LastNakCount != 30 {
		t.Fatalf("expected LastNakCount to be snapshotted to the current cumulative count, got %d", c.Telemetry.LastNakCount)
	}
}

func TestBandwidthPenaltyTiers(t *testing.T) {
	cases := []struct {
		ratio float64
		want  int
	}{
		{1.0, 0},
		{0.90, 0},
		{0.80, 5},
		{0.60, 15},
		{0.40, 25},
		{0.10, 40},
	}
	for _, c := range cases {
		if got := bandwidthPenalty(c.ratio); got != c.want {
			t.Errorf("bandwidthPenalty(%f) = %d, want %d", c.ratio, got, c.want)
		}
	}
}

func TestLossPenaltyTiers(t *testing.T) {
	cases := []struct {
		ratio float64
		want  int
	}{
		{0.0, 0},
		{0.02, 5},
		{0.07, 10},
		{0.15, 20},
		{0.25, 40},
	}
	for _, c := range cases {
		if got := lossPenalty(c.ratio); got != c.want {
			t.Errorf("lossPenalty(%f) = %d, want %d", c.ratio, got, c.want)
		}
	}
}

func TestTelemetryPenaltyRTTTiers(t *testing.T) {
	c := NewConnection(udpAddr(1000), 0)
	c.Telemetry.RTTMicros = 600000
	if got := telemetryPenalty(c); got < 20 {
		t.Fatalf("high RTT must contribute at least 20 points, got %d", got)
	}
}

func TestTelemetryPenaltyWindowUtilization(t *testing.T) {
	c := NewConnection(udpAddr(1000), 0)
	c.Telemetry.Window = 100
	c.Telemetry.InFlight = 99
	if got := telemetryPenalty(c); got < 15 {
		t.Fatalf("near-saturated window must contribute at least 15 points, got %d", got)
	}
}

func TestTelemetryPenaltyHealthyConnectionIsZero(t *testing.T) {
	c := NewConnection(udpAddr(1000), 0)
	c.Telemetry.RTTMicros = 20000
	c.Telemetry.Window = 100
	c.Telemetry.InFlight = 10
	if got := telemetryPenalty(c); got != 0 {
		t.Fatalf("a healthy telemetry sample must contribute zero points, got %d", got)
	}
}

func TestValidateBitrateDetectsDivergence(t *testing.T) {
	c := NewConnection(udpAddr(1000), 0)
	c.Telemetry.Bitrate = 1_000_000
	diverged, senderBps := ValidateBitrate(c, 2_000_000)
	if !diverged {
		t.Fatalf("a 2x divergence must be flagged")
	}
	if senderBps != 1_000_000 {
		t.Fatalf("expected senderBps passthrough, got %f", senderBps)
	}
}

func TestValidateBitrateNoSenderReportIsNeverDiverged(t *testing.T) {
	c := NewConnection(udpAddr(1000), 0)
	diverged, _ := ValidateBitrate(c, 5_000_000)
	if diverged {
		t.Fatalf("with no sender-reported bitrate, divergence must not be flagged")
	}
}

func TestMedianOddAndEven(t *testing.T) {
	if got := median([]float64{3, 1, 2}); got != 2 {
		t.Fatalf("median of {1,2,3} = %f, want 2", got)
	}
	if got := median([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Fatalf("median of {1,2,3,4} = %f, want 2.5", got)
	}
	if got := median(nil); got != 0 {
		t.Fatalf("median of empty slice must be 0, got %f", got)
	}
}
