// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the control socket shared by conveyor-server
// and the conveyor CLI.
//
// The protocol is one CBOR request and one CBOR response per Unix
// socket connection. A request is a CBOR map with an "action" key
// naming the operation; the remaining keys are action-specific. The
// response is the [Response] envelope: ok, an error message, and the
// CBOR-encoded result in data.
//
// There is no caller authentication on the socket. The server creates
// it with mode 0600, so reaching it requires the server's user.
package service
