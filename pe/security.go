// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"go.mozilla.org/pkcs7"
)

// ImageCertificateEntry is WIN_CERTIFICATE: the header preceding an
// Authenticode signature blob in the certificate table.
type ImageCertificateEntry struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
}

// CertificateInfo summarizes the Authenticode signature attached to an
// image: whether one is present, and the signer chain pkcs7 can extract
// from it. No signature validation (trust chain, timestamp counter-
// signature, revocation) is attempted — this is a forensic display, not a
// trust decision.
type CertificateInfo struct {
	Present   bool
	Signers   []string
}

// parseCertificateDirectory decodes the Authenticode PKCS#7 blob.
//
// IMAGE_DIRECTORY_ENTRY_SECURITY is the one data directory whose
// VirtualAddress is a raw file offset rather than an RVA, and the
// certificate table is explicitly excluded from what the Windows loader
// maps into a process's address space. A module parsed from live
// debuggee memory (NewBytes over a MemoryReader capture) therefore never
// has a certificate table to find; this only produces a result when Parse
// runs on an Image that came from Open against the on-disk executable.
// The preflight check in cmd/wdbg parses only the DOS and NT headers, so
// it does not reach this function.
func (img *Image) parseCertificateDirectory(fileOffset, size uint32) error {
	if img.mm == nil {
		// Not file-backed: nothing to read regardless of what the
		// directory entry says.
		return nil
	}

	raw, err := img.ReadBytesAtOffset(fileOffset, size)
	if err != nil {
		return err
	}
	if len(raw) < 8 {
		return ErrOutOfBounds
	}

	blob := raw[8:]
	p7, err := pkcs7.Parse(blob)
	if err != nil {
		return err
	}

	info := &CertificateInfo{Present: true}
	for _, cert := range p7.Certificates {
		info.Signers = append(info.Signers, cert.Subject.CommonName)
	}
	img.Certificate = info
	img.IsSigned = true
	return nil
}
