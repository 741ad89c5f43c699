package memoryio

import "testing"

type podStruct struct {
	A uint32
	B uint16
}

func TestReadPod(t *testing.T) {
	r := NewFakeReader()
	r.Map(0x1000, []byte{0x01, 0x00, 0x00, 0x00, 0x02, 0x00})

	var v podStruct
	if err := ReadPod(r, 0x1000, &v); err != nil {
		t.Fatalf("ReadPod() error = %v", err)
	}
	if v.A != 1 || v.B != 2 {
		t.Errorf("ReadPod() = %+v, want {1 2}", v)
	}
}

func TestReadPodShort(t *testing.T) {
	r := NewFakeReader()
	r.Map(0x1000, []byte{0x01, 0x00})

	var v podStruct
	if err := ReadPod(r, 0x1000, &v); err != ErrShortRead {
		t.Fatalf("ReadPod() error = %v, want ErrShortRead", err)
	}
}

func TestReadCString(t *testing.T) {
	r := NewFakeReader()
	r.Map(0x2000, []byte("hello\x00garbage"))

	if got := ReadCString(r, 0x2000, 64, false); got != "hello" {
		t.Errorf("ReadCString() = %q, want %q", got, "hello")
	}
}

func TestReadCStringWide(t *testing.T) {
	r := NewFakeReader()
	// "hi" as UTF-16LE plus a terminator.
	r.Map(0x3000, []byte{'h', 0, 'i', 0, 0, 0})

	if got := ReadCString(r, 0x3000, 64, true); got != "hi" {
		t.Errorf("ReadCString(wide) = %q, want %q", got, "hi")
	}
}

func TestReadCStringIndirect(t *testing.T) {
	r := NewFakeReader()
	r.Map(0x4000, []byte{0x00, 0x50, 0x00, 0x00, 0, 0, 0, 0}) // pointer -> 0x5000
	r.Map(0x5000, []byte("target\x00"))

	got, err := ReadCStringIndirect(r, 0x4000, 64, false)
	if err != nil {
		t.Fatalf("ReadCStringIndirect() error = %v", err)
	}
	if got != "target" {
		t.Errorf("ReadCStringIndirect() = %q, want %q", got, "target")
	}
}

func TestReadBytesOrGapsAdvancesPastHoles(t *testing.T) {
	r := NewFakeReader()
	r.Map(0x100, []byte{1, 2})
	r.Map(0x104, []byte{5, 6})

	data, ok := r.ReadBytesOrGaps(0x100, 6)
	want := []bool{true, true, false, false, true, true}
	for i := range want {
		if ok[i] != want[i] {
			t.Fatalf("ok[%d] = %v, want %v", i, ok[i], want[i])
		}
	}
	if data[0] != 1 || data[1] != 2 || data[4] != 5 || data[5] != 6 {
		t.Fatalf("data = %v", data)
	}
}

func TestReadArrayUpToStopsAtFirstGap(t *testing.T) {
	r := NewFakeReader()
	r.Map(0x200, []byte{1, 2, 3, 4}) // two uint16 elements readable

	buf := ReadArrayUpTo(r, 0x200, 5, 2)
	if len(buf) != 4 {
		t.Fatalf("len(buf) = %d, want 4", len(buf))
	}
}
