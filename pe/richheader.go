// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

// RichHeaderEntry is one triple of the MSVC-specific "Rich" header tucked
// between the DOS stub and the PE signature. It is undocumented by Microsoft but stable
// across linker versions: a XOR-obfuscated array of (compiler product id,
// build number, use count) triples, terminated by the "Rich" marker and
// the XOR key itself. Reported by the mi command as a coarse build-tool
// fingerprint; not required for anything else.
type RichHeaderEntry struct {
	CompID     uint16
	BuildNum   uint16
	UseCount   uint32
}

// RichHeader is the decoded CompID table plus the XOR key used to find it.
type RichHeader struct {
	XORKey  uint32
	Entries []RichHeaderEntry
}

const (
	richMarker = 0x68636952 // "Rich"
	danSMarker = 0x536e6144 // "DanS"
)

// parseRichHeader scans the DOS stub for the "Rich" trailer. Absence is
// normal (non-MSVC toolchains, or the field stripped) and not an anomaly.
func (img *Image) parseRichHeader() {
	limit := img.DOSHeader.AddressOfNewEXEHeader
	if limit > img.size || limit < 4 {
		return
	}

	var richOffset uint32
	found := false
	for off := uint32(0); off+4 <= limit; off += 4 {
		v, err := img.ReadUint32(off)
		if err != nil {
			return
		}
		if v == richMarker {
			richOffset = off
			found = true
			break
		}
	}
	if !found {
		return
	}

	key, err := img.ReadUint32(richOffset + 4)
	if err != nil {
		return
	}

	// Walk backwards from the Rich marker, XOR-decoding uint32s, until the
	// decoded "DanS" marker (itself XORed) is found.
	var decoded []uint32
	for off := richOffset; off >= 4; off -= 4 {
		v, err := img.ReadUint32(off - 4)
		if err != nil {
			break
		}
		dv := v ^ key
		if dv == danSMarker {
			break
		}
		decoded = append([]uint32{dv}, decoded...)
		if off < 4 {
			break
		}
	}

	rh := RichHeader{XORKey: key}
	for i := 0; i+1 < len(decoded); i += 2 {
		packed := decoded[i]
		rh.Entries = append(rh.Entries, RichHeaderEntry{
			BuildNum: uint16(packed),
			CompID:   uint16(packed >> 16),
			UseCount: decoded[i+1],
		})
	}
	img.RichHeader = rh
}
