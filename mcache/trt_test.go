package mcache

import "testing"

func TestTRTFullAndHit(t *testing.T) {
	trt := NewTRT(2, 4)
	full, idx := trt.Full()
	if full || idx != 0 {
		t.Fatalf("Full() = (%v, %d), want (false, 0)", full, idx)
	}

	trt.Set(0, true, 0x40, 5, 1, 0, true, false, 16, 0, nil, nil, false)
	if _, ok := trt.HitRead(0x40); !ok {
		t.Fatal("HitRead should find the GET entry just set")
	}
	if trt.HitWrite(0x40) {
		t.Fatal("HitWrite must not match a GET entry")
	}

	trt.Set(1, false, 0x80, 7, 2, 0, false, false, 0, 0, nil, nil, false)
	if !trt.HitWrite(0x80) {
		t.Fatal("HitWrite should find the PUT entry just set")
	}

	full, _ = trt.Full()
	if !full {
		t.Fatal("table should report full once both entries are valid")
	}
}

func TestTRTWriteDataMaskAndRsp(t *testing.T) {
	trt := NewTRT(1, 2)
	trt.Set(0, true, 0x100, 5, 1, 0, true, false, 8, 0, nil, nil, false)

	// Processor wrote the low two bytes of word 0 before the GET completed.
	trt.WriteDataMask(0, []uint32{0x0000BEEF}, []uint8{0x3})

	// XRAM response supplies both words; only the untouched bytes of word
	// 0 should come from XRAM, word 1 is untouched so fully XRAM's.
	trt.WriteRsp(0, 0, 0xCAFEBABE11112222, false)

	e := trt.Read(0)
	if e.Rerror {
		t.Fatal("unexpected Rerror")
	}
	if got, want := e.Wdata[0], uint32(0x1111BEEF); got != want {
		t.Fatalf("word 0 = %#x, want %#x", got, want)
	}
	if got, want := e.Wdata[1], uint32(0xCAFEBABE); got != want {
		t.Fatalf("word 1 = %#x, want %#x", got, want)
	}
}

func TestTRTWriteRspError(t *testing.T) {
	trt := NewTRT(1, 2)
	trt.Set(0, true, 0x100, 5, 1, 0, true, false, 8, 0, nil, nil, false)
	trt.WriteRsp(0, 0, 0, true)
	if !trt.Read(0).Rerror {
		t.Fatal("Rerror must be set after an errored response")
	}
}

func TestTRTClear(t *testing.T) {
	trt := NewTRT(1, 2)
	trt.Set(0, true, 0x100, 5, 1, 0, true, false, 8, 0, nil, nil, true)
	if !trt.IsConfig(0) {
		t.Fatal("IsConfig must report true for a CONFIG-issued entry")
	}
	trt.Clear(0)
	if trt.Read(0).Valid {
		t.Fatal("entry must be invalid after Clear")
	}
}
