// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	zlibCompressionLevel  = 9
	zlibSectionHeaderSize = 256
	zlibSizeOffset        = 20
)

// ZLIB implements Compressor for the Dell section format: a 256-byte
// header carrying the payload size at offset 20, followed by a zlib
// stream.
type ZLIB struct{}

// Name returns the type of compression employed.
func (c *ZLIB) Name() string {
	return "ZLIB"
}

// Decode decodes a byte slice of ZLIB data.
func (c *ZLIB) Decode(encodedData []byte) ([]byte, error) {
	if len(encodedData) < zlibSectionHeaderSize {
		return nil, errors.New("ZLIB.Decode: missing section header")
	}

	// Check size in ZLIB section header
	size := binary.LittleEndian.Uint32(
		encodedData[zlibSizeOffset : zlibSizeOffset+4],
	)
	if size != uint32(len(encodedData)-zlibSectionHeaderSize) {
		return nil, errors.New("ZLIB.Decode: size mismatch")
	}

	r, err := zlib.NewReader(
		bytes.NewBuffer(encodedData[zlibSectionHeaderSize:]),
	)
	if err != nil {
		return nil, err
	}

	decodedData, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, err
	}

	return decodedData, nil
}

// Encode encodes a byte slice with ZLIB.
func (c *ZLIB) Encode(decodedData []byte) ([]byte, error) {
	var stream bytes.Buffer

	w, err := zlib.NewWriterLevel(&stream, zlibCompressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	// Rebuild the section header around the stream.
	encodedData := make([]byte, zlibSectionHeaderSize+stream.Len())
	binary.LittleEndian.PutUint32(
		encodedData[zlibSizeOffset:zlibSizeOffset+4], uint32(stream.Len()),
	)
	copy(encodedData[zlibSectionHeaderSize:], stream.Bytes())

	return encodedData, nil
}

// RawZLIB implements Compressor for a bare zlib stream with no section
// header, the form found inside standard-compression sections.
type RawZLIB struct{}

// Name returns the type of compression employed.
func (c *RawZLIB) Name() string {
	return "RawZLIB"
}

// Decode decodes a bare zlib stream.
func (c *RawZLIB) Decode(encodedData []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewBuffer(encodedData))
	if err != nil {
		return nil, err
	}
	decodedData, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, err
	}
	return decodedData, nil
}

// Encode encodes a bare zlib stream.
func (c *RawZLIB) Encode(decodedData []byte) ([]byte, error) {
	var stream bytes.Buffer
	w, err := zlib.NewWriterLevel(&stream, zlibCompressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return stream.Bytes(), nil
}
