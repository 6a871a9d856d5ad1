// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Conveyor is the command-line client of conveyor-server.
//
// Every command except keygen, encrypt, and version talks to the
// server's control socket. The socket path comes from --socket, then
// CONVEYOR_SOCKET, then the socket.path of the file named by --config
// or CONVEYOR_CONFIG, then the default path under
// ~/.local/share/conveyor.
//
// Usage:
//
//	conveyor trigger web --revision 3f2a9c=0123abcd --wait
//	conveyor pause web --reason "flaky tests"
//	conveyor status
//	conveyor stage-passed build/4/build/1 --label 1.0.4
//	conveyor history web --material app --limit 5
//	conveyor keygen --output ~/.config/conveyor/identity
//	echo -n hunter2 | conveyor encrypt --recipient age1...
package main
