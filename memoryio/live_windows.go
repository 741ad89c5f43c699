//go:build windows

package memoryio

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32          = windows.NewLazySystemDLL("kernel32.dll")
	procReadProcessMemory = modkernel32.NewProc("ReadProcessMemory")
)

func readProcessMemory(process windows.Handle, addr uintptr, buf []byte) (uintptr, error) {
	var n uintptr
	if len(buf) == 0 {
		return 0, nil
	}
	r1, _, err := procReadProcessMemory.Call(
		uintptr(process),
		addr,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&n)),
	)
	if r1 == 0 {
		return n, err
	}
	return n, nil
}

// LiveReader reads directly out of a debuggee's address space via
// ReadProcessMemory. It is the only MemoryReader implementation that talks
// to the OS; everything in debugloop is written against the MemoryReader
// interface so tests substitute a scripted reader instead.
type LiveReader struct {
	Process windows.Handle
}

// ReadBytesOrGaps issues one ReadProcessMemory call per contiguous
// readable run, advancing a single byte past any run that failed so one
// bad page never aborts the rest of the range.
func (r LiveReader) ReadBytesOrGaps(addr uint64, length int) ([]byte, []bool) {
	data := make([]byte, length)
	ok := make([]bool, length)

	offset := 0
	for offset < length {
		remaining := length - offset
		buf := make([]byte, remaining)
		n, err := readProcessMemory(r.Process, uintptr(addr)+uintptr(offset), buf)

		if err != nil || n == 0 {
			offset++
			continue
		}

		copy(data[offset:], buf[:n])
		for i := 0; i < int(n); i++ {
			ok[offset+i] = true
		}
		offset += int(n)
	}

	return data, ok
}

// ReadBytes performs one ReadProcessMemory call and returns exactly what
// the OS delivered, even if short.
func (r LiveReader) ReadBytes(addr uint64, length int) []byte {
	if length == 0 {
		return nil
	}
	buf := make([]byte, length)
	// A partial copy reports failure but still sets n to the bytes that
	// were delivered, so the error is not a reason to drop them.
	n, _ := readProcessMemory(r.Process, uintptr(addr), buf)
	return buf[:n]
}
