// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the hex fixtures and helpers shared by the
// sensor, reader, capture, sink, db and command tests.
package testutil

import (
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"
)

// MustHex decodes a hex fixture, ignoring spaces so frames can be grouped
// by field. It fails the test on malformed input.
func MustHex(t testing.TB, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("invalid hex fixture %q: %v", s, err)
	}
	return b
}

// Concat joins frames into one read buffer.
func Concat(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
