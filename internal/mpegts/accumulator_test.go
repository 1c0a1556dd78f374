package mpegts

import "testing"

func mustParse(t *testing.T, buf []byte, pos int64) *Packet {
	t.Helper()
	p, err := parsePacket(buf, pos)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestAccumulator_FlushOnUnitStart(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100, pmt: pidSet{}}

	if done := a.add(mustParse(t, makePacket(0x100, 0, true, []byte{0, 0, 1}), 0)); done != nil {
		t.Fatal("flushed on first packet")
	}
	if done := a.add(mustParse(t, makePacket(0x100, 1, false, nil), 188)); done != nil {
		t.Fatal("flushed on continuation")
	}
	done := a.add(mustParse(t, makePacket(0x100, 2, true, []byte{0, 0, 1}), 376))
	if len(done) != 2 {
		t.Fatalf("flushed %d packets, want 2", len(done))
	}
	if done[0].Pos != 0 {
		t.Errorf("unit pos = %d, want 0", done[0].Pos)
	}
}

func TestAccumulator_ContinuityErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		secondCC uint8
		disc     bool
		wantLen  int
	}{
		{"in order", 4, false, 2},
		{"duplicate dropped", 3, false, 1},
		{"gap discards unit", 6, false, 0},
		{"signalled discontinuity", 9, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &accumulator{pid: 0x100, pmt: pidSet{}}
			a.add(mustParse(t, makePacket(0x100, 3, true, []byte{0, 0, 1}), 0))

			var second []byte
			if tt.disc {
				second = makePacketWithAF(0x100, tt.secondCC, 1, 0x80, []byte{0xAB})
			} else {
				second = makePacket(0x100, tt.secondCC, false, []byte{0xAB})
			}
			a.add(mustParse(t, second, 188))

			if len(a.packets) != tt.wantLen {
				t.Errorf("buffered %d packets, want %d", len(a.packets), tt.wantLen)
			}
		})
	}
}

func TestAccumulator_CCWraps(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100, pmt: pidSet{}}
	a.add(mustParse(t, makePacket(0x100, 15, true, []byte{0, 0, 1}), 0))
	a.add(mustParse(t, makePacket(0x100, 0, false, nil), 188))
	if len(a.packets) != 2 {
		t.Errorf("buffered %d packets, want 2", len(a.packets))
	}
}

func TestAccumulator_TransportErrorResets(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: 0x100, pmt: pidSet{}}
	a.add(mustParse(t, makePacket(0x100, 0, true, []byte{0, 0, 1}), 0))
	bad := makePacket(0x100, 1, false, nil)
	bad[1] |= 0x80
	a.add(mustParse(t, bad, 188))
	if len(a.packets) != 0 {
		t.Errorf("buffered %d packets after TEI, want 0", len(a.packets))
	}
}

func TestAccumulator_PSICompletesWithoutNextStart(t *testing.T) {
	t.Parallel()
	a := &accumulator{pid: pidPAT, pmt: pidSet{}}
	payload := psiPayload(section(tableIDPAT, 1, []byte{0x00, 0x01, 0xF0, 0x00}))
	done := a.add(mustParse(t, makePacket(pidPAT, 0, true, payload), 0))
	if len(done) != 1 {
		t.Fatalf("flushed %d packets, want 1", len(done))
	}
}

func TestSectionsComplete_Incomplete(t *testing.T) {
	t.Parallel()
	s := psiPayload(section(tableIDPMT, 1, make([]byte, 300)))
	first := &Packet{Payload: s[:PacketSize-4]}
	if sectionsComplete([]*Packet{first}) {
		t.Error("partial section reported complete")
	}
	second := &Packet{Payload: s[PacketSize-4:]}
	if !sectionsComplete([]*Packet{first, second}) {
		t.Error("full section reported incomplete")
	}
}

func TestPool_DumpOrdersPATFirst(t *testing.T) {
	t.Parallel()
	pl := newPool(pidSet{})
	pl.add(mustParse(t, makePacket(0x200, 0, true, []byte{0, 0, 1}), 0))
	pl.add(mustParse(t, makePacket(0x100, 0, true, []byte{0, 0, 1}), 188))
	pl.add(mustParse(t, makePacket(pidPAT, 0, true, []byte{0x00, 0x00, 0xB0, 0xFF}), 376))

	all := pl.dump()
	if len(all) != 3 {
		t.Fatalf("dumped %d units, want 3", len(all))
	}
	if all[0][0].Header.PID != pidPAT {
		t.Errorf("first dumped PID = 0x%X, want PAT", all[0][0].Header.PID)
	}
	if all[1][0].Pos != 0 || all[2][0].Pos != 188 {
		t.Errorf("dump order by pos = %d, %d; want 0, 188", all[1][0].Pos, all[2][0].Pos)
	}
}
