// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package microcode parses and validates Intel microcode updates before they
// are injected into an image. Validation is fail-closed: an update that does
// not checksum, or that targets a different CPU, is rejected outright.
package microcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	// DefaultDataSize applies when HeaderDataSize is zero.
	DefaultDataSize = 2000
	// DefaultTotalSize applies when HeaderDataSize is zero.
	DefaultTotalSize = 2048

	headerSize = 48
)

// Header is the fixed Intel microcode update header.
type Header struct {
	HeaderVersion            uint32 // must be 0x1
	HeaderRevision           uint32
	HeaderDate               uint32 // packed BCD, MMDDYYYY
	HeaderProcessorSignature uint32
	HeaderChecksum           uint32
	HeaderLoaderRevision     uint32
	HeaderProcessorFlags     uint32
	HeaderDataSize           uint32 // 0 means 2000
	HeaderTotalSize          uint32 // 0 means 2048
	Reserved1                [3]uint32
}

// ExtendedSignature lists one additional CPU the update applies to.
type ExtendedSignature struct {
	Signature      uint32
	ProcessorFlags uint32
	Checksum       uint32
}

func (e *ExtendedSignature) String() string {
	return fmt.Sprintf("sig=0x%x, pf=0x%x", e.Signature, e.ProcessorFlags)
}

// ExtendedSigTable precedes the extended signature list.
type ExtendedSigTable struct {
	Count    uint32
	Checksum uint32
	Reserved [3]uint32
}

// Microcode is one parsed update.
type Microcode struct {
	Header
	Data               []byte
	ExtSigTable        ExtendedSigTable
	ExtendedSignatures []ExtendedSignature
}

func (m *Microcode) String() string {
	s := fmt.Sprintf("sig=0x%x, pf=0x%x, rev=0x%x, total size=0x%x, date = %04x-%02x-%02x",
		m.HeaderProcessorSignature, m.HeaderProcessorFlags, m.HeaderRevision,
		m.TotalSize(), m.HeaderDate&0xffff, m.HeaderDate>>24, (m.HeaderDate>>16)&0xff)
	for i := range m.ExtendedSignatures {
		s += fmt.Sprintf("\nextended signature[%d]: %s", i, m.ExtendedSignatures[i].String())
	}
	return s
}

// TotalSize returns the declared update size with the legacy zero default
// applied.
func (m *Microcode) TotalSize() uint32 {
	if m.HeaderDataSize > 0 {
		return m.HeaderTotalSize
	}
	return DefaultTotalSize
}

// DataSize returns the declared data size with the legacy zero default
// applied.
func (m *Microcode) DataSize() uint32 {
	if m.HeaderDataSize > 0 {
		return m.HeaderDataSize
	}
	return DefaultDataSize
}

// Matches reports whether the update targets the given CPUID signature under
// the given platform flags mask. Extended signatures count.
func (m *Microcode) Matches(signature, flags uint32) bool {
	if m.HeaderProcessorSignature == signature && m.HeaderProcessorFlags&flags != 0 {
		return true
	}
	for i := range m.ExtendedSignatures {
		e := &m.ExtendedSignatures[i]
		if e.Signature == signature && e.ProcessorFlags&flags != 0 {
			return true
		}
	}
	return false
}

// Parse reads one microcode update from r and verifies its structure and
// checksums.
func Parse(r io.Reader) (*Microcode, error) {
	var m Microcode

	if err := binary.Read(r, binary.LittleEndian, &m.Header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Sanity checks
	if m.HeaderVersion != 1 || m.HeaderLoaderRevision != 1 {
		return nil, fmt.Errorf("invalid version or loader revision")
	}
	if m.TotalSize() < m.DataSize()+headerSize {
		return nil, fmt.Errorf("total size %#x too small for data size %#x", m.TotalSize(), m.DataSize())
	}
	if m.DataSize()%4 > 0 {
		return nil, fmt.Errorf("data size not 32bit aligned")
	}
	if m.TotalSize()%4 > 0 {
		return nil, fmt.Errorf("total size not 32bit aligned")
	}

	m.Data = make([]byte, m.DataSize())
	if _, err := io.ReadFull(r, m.Data); err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}

	// The dwords of header plus data must sum to zero mod 2^32.
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+int(m.DataSize())))
	_ = binary.Write(buf, binary.LittleEndian, &m.Header)
	buf.Write(m.Data)
	if sum := dwordSum(buf.Bytes()); sum != 0 {
		return nil, fmt.Errorf("checksum is not null: %#x", sum)
	}

	if m.TotalSize() <= m.DataSize()+headerSize {
		return &m, nil
	}

	// Extended signature area.
	if err := binary.Read(r, binary.LittleEndian, &m.ExtSigTable); err != nil {
		return nil, fmt.Errorf("failed to read extended sig table: %w", err)
	}
	for i := uint32(0); i < m.ExtSigTable.Count; i++ {
		var signature ExtendedSignature
		if err := binary.Read(r, binary.LittleEndian, &signature); err != nil {
			return nil, fmt.Errorf("failed to read extended signature: %w", err)
		}
		m.ExtendedSignatures = append(m.ExtendedSignatures, signature)
	}

	ext := bytes.NewBuffer(nil)
	_ = binary.Write(ext, binary.LittleEndian, &m.ExtSigTable)
	for i := range m.ExtendedSignatures {
		_ = binary.Write(ext, binary.LittleEndian, &m.ExtendedSignatures[i])
	}
	if sum := dwordSum(ext.Bytes()); sum != 0 {
		return nil, fmt.Errorf("extended header checksum is not null: %#x", sum)
	}

	return &m, nil
}

// ParseBytes parses a microcode update held in memory.
func ParseBytes(buf []byte) (*Microcode, error) {
	return Parse(bytes.NewReader(buf))
}

// ParseFile reads and parses the update at path.
func ParseFile(path string) (*Microcode, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func dwordSum(buf []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(buf); i += 4 {
		sum += binary.LittleEndian.Uint32(buf[i : i+4])
	}
	return sum
}
