// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// maxSecretSize bounds what ReadFrom accepts.
const maxSecretSize = 64 << 10

// ReadFile reads a secret from path, or from stdin when path is "-".
// Surrounding whitespace is trimmed and an empty secret is an error.
func ReadFile(path string) (*Buffer, error) {
	if path == "-" {
		return ReadFrom(os.Stdin)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadFrom(file)
}

// ReadFrom reads a whitespace-trimmed secret of at most 64 KiB from
// reader.
func ReadFrom(reader io.Reader) (*Buffer, error) {
	data, err := io.ReadAll(io.LimitReader(reader, maxSecretSize+1))
	if err != nil {
		Zero(data)
		return nil, fmt.Errorf("secret: reading: %w", err)
	}
	if len(data) > maxSecretSize {
		Zero(data)
		return nil, fmt.Errorf("secret: larger than %d bytes", maxSecretSize)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret: empty")
	}
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	return buffer, err
}
