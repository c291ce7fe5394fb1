package flat

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/dedupgo/vindex"
)

const (
	// magicNumber identifies flat index blobs (ASCII: "DDF1").
	magicNumber = 0x44444631
	// formatVersion is the current blob format version.
	formatVersion = 1

	maxIDLen = 1 << 16
)

var (
	// ErrInvalidMagic is returned when a blob does not start with the flat
	// index magic number.
	ErrInvalidMagic = errors.New("invalid magic number")

	// ErrInvalidVersion is returned for unsupported blob format versions.
	ErrInvalidVersion = errors.New("unsupported format version")
)

// EncodeTo writes the index content, plus any staged entries, as a binary
// blob: header (magic, version, dimension, count) followed by one record per
// entry. Entries are written in insertion order; staged entries come last.
func (f *Flat) EncodeTo(w io.Writer, staged ...vindex.Entry) error {
	st := f.getState()

	bw := bufio.NewWriter(w)

	header := []any{
		uint32(magicNumber),
		uint32(formatVersion),
		uint32(f.opts.Dimension),
		uint64(len(st.entries) + len(staged)),
	}
	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	writeEntry := func(e vindex.Entry, vec []float32) error {
		if err := writeString(bw, e.ItemID); err != nil {
			return err
		}
		if err := writeString(bw, e.ClusterID); err != nil {
			return err
		}
		for _, x := range vec {
			if err := binary.Write(bw, binary.LittleEndian, math.Float32bits(x)); err != nil {
				return err
			}
		}
		return nil
	}

	for _, e := range st.entries {
		if err := writeEntry(e, e.Vector); err != nil {
			return err
		}
	}
	for _, e := range staged {
		norm, err := f.normalize(e.Vector)
		if err != nil {
			return err
		}
		if err := writeEntry(e, norm); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// DecodeFrom replaces the index content with the blob read from r.
// The blob's dimension must match the index's configured dimension; a
// mismatch signals a configuration change that needs an explicit migration.
func (f *Flat) DecodeFrom(r io.Reader) error {
	br := bufio.NewReader(r)

	var magic, version, dim uint32
	var count uint64
	for _, v := range []any{&magic, &version, &dim, &count} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if magic != magicNumber {
		return fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, magic)
	}
	if version != formatVersion {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	if int(dim) != f.opts.Dimension {
		return &vindex.ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: int(dim)}
	}

	newState := &indexState{
		entries: make([]vindex.Entry, 0, count),
		byItem:  make(map[string]int, count),
	}

	for i := uint64(0); i < count; i++ {
		itemID, err := readString(br)
		if err != nil {
			return fmt.Errorf("flat: entry %d: %w", i, err)
		}
		clusterID, err := readString(br)
		if err != nil {
			return fmt.Errorf("flat: entry %d: %w", i, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			var bits uint32
			if err := binary.Read(br, binary.LittleEndian, &bits); err != nil {
				return fmt.Errorf("flat: entry %d: %w", i, err)
			}
			vec[j] = math.Float32frombits(bits)
		}
		if _, ok := newState.byItem[itemID]; ok {
			return &vindex.ErrDuplicateItem{ItemID: itemID}
		}
		newState.byItem[itemID] = len(newState.entries)
		newState.entries = append(newState.entries, vindex.Entry{
			ItemID:    itemID,
			ClusterID: clusterID,
			Vector:    vec,
		})
	}

	f.writeMu.Lock()
	f.state.Store(newState)
	f.writeMu.Unlock()
	return nil
}

func writeString(w io.Writer, s string) error {
	if len(s) >= maxIDLen {
		return fmt.Errorf("flat: id too long: %d bytes", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
