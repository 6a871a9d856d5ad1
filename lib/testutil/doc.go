// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for conveyor packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout pattern so individual tests do not need direct
// time.After calls. [Eventually] polls a condition for state that is
// only observable from outside, such as a goroutine reaching a
// blocking call. These helpers are the only place tests use real
// wall-clock timeouts; scheduling logic itself runs on a fake clock.
//
// [SocketDir] creates a short /tmp directory for Unix domain sockets.
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
