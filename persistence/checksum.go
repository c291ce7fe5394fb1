package persistence

import (
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// Checksum utilities for snapshot integrity verification.
//
// Uses CRC32 (IEEE polynomial): fast, hardware-accelerated on modern CPUs,
// and good at detecting accidental storage corruption. CRC32 is NOT
// cryptographically secure; it is not a tamper-detection mechanism.

// ChecksumWriter wraps an io.Writer and computes a running CRC32 checksum
// plus a byte count over everything written.
type ChecksumWriter struct {
	w    io.Writer
	hash hash.Hash32
	n    int64
}

// NewChecksumWriter creates a new checksumming writer.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{
		w:    w,
		hash: crc32.NewIEEE(),
	}
}

// Write implements io.Writer.
func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	if _, err := cw.hash.Write(p); err != nil {
		return 0, err
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

// Sum returns the current checksum value.
func (cw *ChecksumWriter) Sum() uint32 { return cw.hash.Sum32() }

// Count returns the number of bytes written.
func (cw *ChecksumWriter) Count() int64 { return cw.n }

// ChecksumMismatchError is returned when checksum verification fails.
type ChecksumMismatchError struct {
	File     string
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("%s: checksum mismatch: expected 0x%08x, got 0x%08x", e.File, e.Expected, e.Actual)
}

// verifyChecksum checks data against an expected CRC32.
func verifyChecksum(file string, data []byte, expected uint32) error {
	actual := crc32.ChecksumIEEE(data)
	if actual != expected {
		return &ChecksumMismatchError{File: file, Expected: expected, Actual: actual}
	}
	return nil
}
