// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobcodec

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"strings"
	"testing"
)

func fileList(count int) []byte {
	var builder strings.Builder
	for index := range count {
		fmt.Fprintf(&builder, "M\tvendor/github.com/example/module%03d/internal/generated.go\n", index)
	}
	return []byte(builder.String())
}

func TestPackUnpackRoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"small", []byte("A\tREADME.md\n")},
		{"repetitive", fileList(500)},
		{"random", random},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tag, packed, err := Pack(test.data)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			unpacked, err := Unpack(tag, packed, len(test.data))
			if err != nil {
				t.Fatalf("Unpack(%s): %v", tag, err)
			}
			if !bytes.Equal(unpacked, test.data) {
				t.Fatalf("round trip mismatch with tag %s", tag)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	if got := Select([]byte("tiny")); got != None {
		t.Errorf("Select(tiny) = %s, want none", got)
	}
	if got := Select(fileList(500)); got != Zstd {
		t.Errorf("Select(file list) = %s, want zstd", got)
	}
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	if got := Select(random); got != None {
		t.Errorf("Select(random) = %s, want none", got)
	}
}

func TestLZ4RoundTrip(t *testing.T) {
	data := fileList(200)
	compressed, err := Compress(data, LZ4)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := Decompress(compressed, LZ4, len(data))
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatal("lz4 round trip mismatch")
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	if _, err := Decompress([]byte("abc"), None, 4); err == nil {
		t.Fatal("Decompress with wrong size succeeded, want error")
	}
}

func TestParseTag(t *testing.T) {
	for _, tag := range []Tag{None, LZ4, Zstd} {
		parsed, err := ParseTag(tag.String())
		if err != nil {
			t.Fatalf("ParseTag(%q): %v", tag.String(), err)
		}
		if parsed != tag {
			t.Errorf("ParseTag(%q) = %v, want %v", tag.String(), parsed, tag)
		}
	}
	if _, err := ParseTag("brotli"); err == nil {
		t.Error("ParseTag(brotli) succeeded, want error")
	}
}
