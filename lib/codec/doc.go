// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds conveyor's single CBOR configuration.
//
// CBOR is used wherever conveyor talks to itself: the server socket
// protocol between conveyor and conveyor-server, the BuildCause blobs
// persisted in the pipeline state database, and the canonical byte
// form that material fingerprints are hashed over. Pipeline
// definitions and CLI --json output stay JSON because people read
// them.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical value always produces the same bytes. Fingerprints
// depend on that property. Times are encoded as RFC 3339 strings with
// nanoseconds so that modification timestamps survive a round trip
// through the database unchanged.
//
//	data, err := codec.Marshal(cause)
//	err = codec.Unmarshal(data, &cause)
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
