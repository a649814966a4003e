// Copyright 2026 the BIOSMod Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compression

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// lzmaHeaderSize is the size of the classic LZMA-alone header: one
// properties byte, a 4-byte dictionary size and an 8-byte uncompressed
// size.
const lzmaHeaderSize = 13

// LZMA implements Compressor for the LZMA-alone stream embedded in UEFI
// GUIDed sections.
type LZMA struct{}

// Name returns the type of compression employed.
func (c *LZMA) Name() string {
	return "LZMA"
}

// Decode decodes a byte slice of LZMA data.
func (c *LZMA) Decode(encodedData []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(encodedData))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Encode encodes a byte slice with LZMA. EDK2's decompressor is primitive
// and will try to allocate whatever the header's size field says, so the
// real uncompressed size must be written there rather than the
// end-of-stream marker convention.
func (c *LZMA) Encode(decodedData []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	wc := lzma.WriterConfig{
		Size:      int64(len(decodedData)),
		EOSMarker: false,
	}
	w, err := wc.NewWriter(buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	encodedData := buf.Bytes()
	if len(encodedData) >= lzmaHeaderSize {
		// The header size field must carry the real uncompressed size.
		binary.LittleEndian.PutUint64(encodedData[5:5+8], uint64(len(decodedData)))
	}
	return encodedData, nil
}
