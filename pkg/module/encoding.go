// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package module

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"os"

	"github.com/gomlx/hostrt/pkg/status"
	"github.com/pkg/errors"
)

// Magic identifies module images: the first 4 bytes of the image.
const Magic = "HRTM"

// FormatVersion of the images written by Encode.
const FormatVersion uint32 = 1

// FileExtension conventionally used for module images.
const FileExtension = ".hrtm"

// Encode serializes the module into an image: Magic, FormatVersion (little-endian uint32) and
// the gob encoding of the module.
func Encode(m *Bytecode) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write serializes the module image to w. See Encode.
func Write(w io.Writer, m *Bytecode) error {
	if err := m.Validate(); err != nil {
		return err
	}
	header := make([]byte, len(Magic)+4)
	copy(header, Magic)
	binary.LittleEndian.PutUint32(header[len(Magic):], FormatVersion)
	if _, err := w.Write(header); err != nil {
		return errors.Wrapf(err, "failed to write module %q image", m.ModuleName)
	}
	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.Wrapf(err, "failed to encode module %q", m.ModuleName)
	}
	return nil
}

// WriteFile saves the module image to filePath.
func WriteFile(filePath string, m *Bytecode) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	if err = os.WriteFile(filePath, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to save module %q to %q", m.ModuleName, filePath)
	}
	return nil
}

// Decode parses and validates a module image created with Encode.
// Malformed images return a ModuleLoadFailure error.
func Decode(image []byte) (*Bytecode, error) {
	headerLen := len(Magic) + 4
	if len(image) < headerLen || string(image[:len(Magic)]) != Magic {
		return nil, status.Errorf(status.ModuleLoadFailure, "not a module image (missing %q magic)", Magic)
	}
	if version := binary.LittleEndian.Uint32(image[len(Magic):headerLen]); version != FormatVersion {
		return nil, status.Errorf(status.ModuleLoadFailure, "module image version %d not supported, expected %d", version, FormatVersion)
	}
	m := &Bytecode{}
	if err := gob.NewDecoder(bytes.NewReader(image[headerLen:])).Decode(m); err != nil {
		return nil, status.Wrapf(err, status.ModuleLoadFailure, "failed to decode module image")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadFile loads and decodes a module image from filePath.
func ReadFile(filePath string) (*Bytecode, error) {
	image, err := os.ReadFile(filePath)
	if err != nil {
		return nil, status.Wrapf(err, status.ModuleLoadFailure, "failed to read module file")
	}
	return Decode(image)
}
