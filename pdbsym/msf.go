package pdbsym

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
)

var msfMagic = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")

// superBlock is the fixed header immediately following the 32-byte MSF
// magic string.
type superBlock struct {
	BlockSize         uint32
	FreeBlockMapBlock uint32
	NumBlocks         uint32
	NumDirectoryBytes uint32
	Unknown           uint32
	BlockMapAddr      uint32
}

// msf is an opened Multi-Stream File container: the block size plus the
// byte ranges of every stream, read out of the stream directory.
type msf struct {
	f         *os.File
	blockSize uint32
	streams   [][]byte // fully materialized stream contents
}

var errBadMagic = errors.New("pdbsym: not an MSF 7.00 container")

// openMSF reads the superblock and stream directory, then slurps every
// stream into memory — PDBs produced for a single executable are small
// enough (low tens of MB at most) that this is simpler than lazy paging.
func openMSF(path string) (*msf, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	magic := make([]byte, len(msfMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		f.Close()
		return nil, err
	}
	if !bytes.Equal(magic, msfMagic) {
		f.Close()
		return nil, errBadMagic
	}

	var sb superBlock
	if err := binary.Read(f, binary.LittleEndian, &sb); err != nil {
		f.Close()
		return nil, err
	}

	m := &msf{f: f, blockSize: sb.BlockSize}

	dirBlockCount := (sb.NumDirectoryBytes + sb.BlockSize - 1) / sb.BlockSize
	dirBlockNumbers := make([]uint32, dirBlockCount)
	if err := m.readBlockList(sb.BlockMapAddr, dirBlockNumbers); err != nil {
		f.Close()
		return nil, err
	}

	dirBytes, err := m.readBlocks(dirBlockNumbers, sb.NumDirectoryBytes)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := bytes.NewReader(dirBytes)
	var numStreams uint32
	if err := binary.Read(r, binary.LittleEndian, &numStreams); err != nil {
		f.Close()
		return nil, err
	}

	sizes := make([]uint32, numStreams)
	if err := binary.Read(r, binary.LittleEndian, &sizes); err != nil {
		f.Close()
		return nil, err
	}

	m.streams = make([][]byte, numStreams)
	for i, size := range sizes {
		if size == 0 || size == 0xFFFFFFFF {
			continue
		}
		blockCount := (size + sb.BlockSize - 1) / sb.BlockSize
		blocks := make([]uint32, blockCount)
		if err := binary.Read(r, binary.LittleEndian, &blocks); err != nil {
			f.Close()
			return nil, err
		}
		data, err := m.readBlocks(blocks, size)
		if err != nil {
			f.Close()
			return nil, err
		}
		m.streams[i] = data
	}

	return m, nil
}

// readBlockList reads len(out) consecutive little-endian uint32 block
// numbers starting at block blockNum (used for the block map itself,
// which is one level of indirection above the stream directory).
func (m *msf) readBlockList(blockNum uint32, out []uint32) error {
	buf := make([]byte, len(out)*4)
	if _, err := m.f.ReadAt(buf, int64(blockNum)*int64(m.blockSize)); err != nil {
		return err
	}
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, &out)
}

// readBlocks concatenates the given blocks' contents, trimmed to size
// bytes total.
func (m *msf) readBlocks(blocks []uint32, size uint32) ([]byte, error) {
	out := make([]byte, 0, size)
	remaining := size
	for _, b := range blocks {
		n := m.blockSize
		if remaining < n {
			n = remaining
		}
		buf := make([]byte, n)
		if _, err := m.f.ReadAt(buf, int64(b)*int64(m.blockSize)); err != nil {
			return nil, err
		}
		out = append(out, buf...)
		remaining -= n
	}
	return out, nil
}

func (m *msf) stream(i uint32) []byte {
	if int(i) >= len(m.streams) {
		return nil
	}
	return m.streams[i]
}

func (m *msf) Close() error { return m.f.Close() }
