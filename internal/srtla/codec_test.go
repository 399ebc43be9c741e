package srtla

import "testing"

func TestClassifySRTData(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 0x00 // top bit clear
	if kind := Classify(buf); kind != KindSRTData {
		t.Fatalf("expected KindSRTData, got %v", kind)
	}
}

func TestClassifyControlTypes(t *testing.T) {
	cases := []struct {
		name string
		typ  uint16
		want PacketKind
	}{
		{"handshake", TypeSRTHandshake, KindSRTHandshake},
		{"ack", TypeSRTAck, KindSRTAck},
		{"nak", TypeSRTNak, KindSRTNak},
		{"keepalive", TypeSRTLAKeepalive, KindKeepalive},
		{"srtla_ack", TypeSRTLAAck, KindSRTLAAck},
		{"reg1", TypeSRTLAReg1, KindReg1},
		{"reg2", TypeSRTLAReg2, KindReg2},
		{"reg3", TypeSRTLAReg3, KindReg3},
		{"reg_err", TypeSRTLARegErr, KindRegErr},
		{"reg_ngp", TypeSRTLARegNgp, KindRegNgp},
	}
	for _, c := range cases {
		buf := make([]byte, 4)
		buf[0] = byte(c.typ >> 8)
		buf[1] = byte(c.typ)
		if got := Classify(buf); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

func TestClassifyShortBuffer(t *testing.T) {
	if kind := Classify([]byte{0x01}); kind != KindUnknown {
		t.Fatalf("expected KindUnknown for 1-byte buffer, got %v", kind)
	}
	if kind := Classify(nil); kind != KindUnknown {
		t.Fatalf("expected KindUnknown for nil buffer, got %v", kind)
	}
}

func TestSRTSequenceNumberTopBitSet(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 0x80 // top bit set: not a data packet
	if sn := SRTSequenceNumber(buf); sn != -1 {
		t.Fatalf("expected -1 for top-bit-set buffer, got %d", sn)
	}
}

func TestSRTSequenceNumberValid(t *testing.T) {
	buf := make([]byte, 16)
	buf[0], buf[1], buf[2], buf[3] = 0x00, 0x00, 0x01, 0x2c // 300
	if sn := SRTSequenceNumber(buf); sn != 300 {
		t.Fatalf("expected 300, got %d", sn)
	}
}

func TestExtendedKeepaliveRoundTrip(t *testing.T) {
	want := ExtendedTelemetry{
		ConnID:    7,
		Window:    1500,
		InFlight:  200,
		RTTMicros: 45000,
		NakCount:  3,
		Bitrate:   8_000_000,
	}
	buf := EncodeExtendedKeepalive(want)
	got, ok := ParseExtendedKeepalive(buf)
	if !ok {
		t.Fatalf("ParseExtendedKeepalive rejected a just-encoded buffer")
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestParseExtendedKeepaliveRejectsPlainKeepalive(t *testing.T) {
	plain := make([]byte, 2)
	plain[0], plain[1] = byte(TypeSRTLAKeepalive>>8), byte(TypeSRTLAKeepalive&0xFF)
	if _, ok := ParseExtendedKeepalive(plain); ok {
		t.Fatalf("expected ok=false for a plain 2-byte keepalive")
	}
}

func TestEncodeSRTLAAckLayout(t *testing.T) {
	var seq [RecvAckInt]uint32
	for i := range seq {
		seq[i] = uint32(i + 1)
	}
	buf := EncodeSRTLAAck(seq)
	if len(buf) != 4+4*RecvAckInt {
		t.Fatalf("unexpected ACK length: %d", len(buf))
	}
	if Classify(buf) != KindSRTLAAck {
		t.Fatalf("encoded ACK does not classify as KindSRTLAAck")
	}
}
