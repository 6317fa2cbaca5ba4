package mcache

import "testing"

func TestDataArrayReadWriteLine(t *testing.T) {
	cfg := Config{Ways: 2, Sets: 4, Words: 4}
	a := NewDataArray(cfg)

	line := []uint32{1, 2, 3, 4}
	be := []uint8{0xf, 0xf, 0xf, 0xf}
	a.WriteLine(1, 2, line, be)

	got := a.ReadLine(1, 2)
	for i, want := range line {
		if got[i] != want {
			t.Fatalf("word %d = %#x, want %#x", i, got[i], want)
		}
	}

	// Other ways/sets must remain untouched.
	other := a.ReadLine(0, 2)
	for i, w := range other {
		if w != 0 {
			t.Fatalf("way 0 set 2 word %d = %#x, want 0", i, w)
		}
	}
}

func TestDataArrayPartialWriteByteEnable(t *testing.T) {
	cfg := Config{Ways: 1, Sets: 1, Words: 1}
	a := NewDataArray(cfg)
	a.Write(0, 0, 0, 0xAABBCCDD, 0xf)

	// Only overwrite the low byte.
	a.Write(0, 0, 0, 0x000000FF, 0x1)
	if got, want := a.Read(0, 0, 0), uint32(0xAABBCCFF); got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}

	// Only overwrite byte 2.
	a.Write(0, 0, 0, 0x00110000, 0x4)
	if got, want := a.Read(0, 0, 0), uint32(0xAA11CCFF); got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestBeToMask(t *testing.T) {
	cases := []struct {
		be   uint8
		mask uint32
	}{
		{0x0, 0x00000000},
		{0x1, 0x000000ff},
		{0x2, 0x0000ff00},
		{0x4, 0x00ff0000},
		{0x8, 0xff000000},
		{0xf, 0xffffffff},
		{0x5, 0x00ff00ff},
	}
	for _, c := range cases {
		if got := beToMask(c.be); got != c.mask {
			t.Fatalf("beToMask(%#x) = %#x, want %#x", c.be, got, c.mask)
		}
	}
}
