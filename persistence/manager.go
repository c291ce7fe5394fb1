// Package persistence provides durable snapshot management for the dedup
// engine's state directory.
//
// State is persisted as immutable, generation-numbered snapshot artifacts: a
// serialized cluster registry, a compressed vector index blob, and a manifest
// carrying the shared generation counter and artifact checksums. A CURRENT
// pointer file is atomically renamed over last, so readers either see a
// complete generation or the previous one — never a torn mix.
package persistence

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/hupe1980/dedupgo/codec"
	"github.com/hupe1980/dedupgo/internal/fs"
)

const (
	// CurrentFileName is the pointer file naming the live manifest.
	CurrentFileName = "CURRENT"
	// LockFileName is the exclusive run-lock file.
	LockFileName = "LOCK"
	// ManifestVersion is the current manifest schema version.
	ManifestVersion = 1

	// keepGenerations is how many snapshot generations are retained
	// beyond the current one.
	keepGenerations = 1
)

var (
	// ErrCorrupt is returned when the persisted state fails an integrity
	// check at load. Loading must abort rather than silently resume from
	// stale or partial state.
	ErrCorrupt = errors.New("persisted state corrupt")

	// ErrLocked is returned when the state directory is already locked by
	// another run. At most one writer may be active.
	ErrLocked = errors.New("state directory locked by another run")

	// ErrClosed is returned when operations are attempted on a closed manager.
	ErrClosed = errors.New("persistence manager is closed")
)

// Manifest describes one complete snapshot generation.
type Manifest struct {
	Version    int       `json:"version"`
	Generation uint64    `json:"generation"`
	Codec      string    `json:"codec"`
	Registry   Artifact  `json:"registry"`
	Index      Artifact  `json:"index"`
	CreatedAt  time.Time `json:"created_at"`
}

// Artifact describes one snapshot file.
type Artifact struct {
	File     string `json:"file"`
	Checksum uint32 `json:"crc32"`
	Size     int64  `json:"size"`
}

// Options configures the persistence manager.
type Options struct {
	// FS is the file system implementation. Defaults to the local file
	// system; tests inject a fault-injecting one.
	FS fs.FileSystem

	// Codec serializes the registry and manifest. Defaults to codec.Default.
	Codec codec.Codec
}

// Manager owns the state directory: the run lock, the generation counter,
// and atomic snapshot commits.
type Manager struct {
	fsys  fs.FileSystem
	dir   string
	codec codec.Codec

	mu         sync.Mutex
	generation uint64
	lock       fs.File
	closed     bool
}

// Open creates (if needed) and locks the state directory.
//
// The exclusive LOCK file makes the "at most one writer" invariant explicit:
// a second Open of the same directory fails with ErrLocked until the first
// manager is closed.
func Open(dir string, optFns ...func(o *Options)) (*Manager, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	if err := opts.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: failed to create state directory: %w", err)
	}

	lockPath := filepath.Join(dir, LockFileName)
	lock, err := opts.FS.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("persistence: failed to acquire lock: %w", err)
	}
	fmt.Fprintf(lock, "pid=%d\n", os.Getpid())

	return &Manager{
		fsys:  opts.FS,
		dir:   dir,
		codec: opts.Codec,
		lock:  lock,
	}, nil
}

// Generation returns the current committed generation (0 = empty state).
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Dir returns the state directory path.
func (m *Manager) Dir() string { return m.dir }

// Codec returns the configured codec.
func (m *Manager) Codec() codec.Codec { return m.codec }

// Load restores state from the current snapshot generation.
//
// It returns (false, nil) when the directory holds no state yet. Any
// integrity failure — missing artifacts, checksum mismatch, unreadable
// manifest — is reported as ErrCorrupt; the caller must abort rather than
// start from empty and silently lose dedup history.
func (m *Manager) Load(decodeRegistry, decodeIndex func(r io.Reader) error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrClosed
	}

	current, err := m.readFile(filepath.Join(m.dir, CurrentFileName))
	if os.IsNotExist(err) {
		return false, nil // empty state
	}
	if err != nil {
		return false, fmt.Errorf("%w: reading CURRENT: %w", ErrCorrupt, err)
	}

	manifestName := string(bytes.TrimSpace(current))
	manifestData, err := m.readFile(filepath.Join(m.dir, manifestName))
	if err != nil {
		return false, fmt.Errorf("%w: reading manifest %s: %w", ErrCorrupt, manifestName, err)
	}

	var manifest Manifest
	if err := m.codec.Unmarshal(manifestData, &manifest); err != nil {
		return false, fmt.Errorf("%w: decoding manifest %s: %w", ErrCorrupt, manifestName, err)
	}
	if manifest.Version != ManifestVersion {
		return false, fmt.Errorf("%w: unsupported manifest version %d", ErrCorrupt, manifest.Version)
	}
	if manifest.Generation == 0 {
		return false, fmt.Errorf("%w: manifest has zero generation", ErrCorrupt)
	}
	if _, ok := codec.ByName(manifest.Codec); !ok {
		return false, fmt.Errorf("%w: unknown codec %q", ErrCorrupt, manifest.Codec)
	}

	registryData, err := m.verifiedArtifact(manifest.Registry)
	if err != nil {
		return false, err
	}
	indexData, err := m.verifiedArtifact(manifest.Index)
	if err != nil {
		return false, err
	}

	if err := decodeRegistry(bytes.NewReader(registryData)); err != nil {
		return false, fmt.Errorf("%w: decoding registry: %w", ErrCorrupt, err)
	}

	zr, err := zstd.NewReader(bytes.NewReader(indexData))
	if err != nil {
		return false, fmt.Errorf("%w: opening index blob: %w", ErrCorrupt, err)
	}
	defer zr.Close()
	if err := decodeIndex(zr); err != nil {
		return false, fmt.Errorf("%w: decoding index: %w", ErrCorrupt, err)
	}

	m.generation = manifest.Generation
	return true, nil
}

// Commit durably writes the next snapshot generation and swaps CURRENT.
//
// The write order makes the commit all-or-nothing: registry and index
// artifacts first, then the manifest, and only then the atomic CURRENT
// rename. A crash or failure at any earlier point leaves CURRENT pointing at
// the previous complete generation, so no half-applied mutation is ever
// visible to Load.
func (m *Manager) Commit(encodeRegistry, encodeIndex func(w io.Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	gen := m.generation + 1

	registryFile := fmt.Sprintf("registry-%06d.json", gen)
	regCRC, regSize, err := m.atomicWrite(registryFile, encodeRegistry)
	if err != nil {
		return fmt.Errorf("persistence: registry write failed: %w", err)
	}

	indexFile := fmt.Sprintf("index-%06d.bin", gen)
	idxCRC, idxSize, err := m.atomicWrite(indexFile, func(w io.Writer) error {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := encodeIndex(zw); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	})
	if err != nil {
		return fmt.Errorf("persistence: index write failed: %w", err)
	}

	manifest := Manifest{
		Version:    ManifestVersion,
		Generation: gen,
		Codec:      m.codec.Name(),
		Registry:   Artifact{File: registryFile, Checksum: regCRC, Size: regSize},
		Index:      Artifact{File: indexFile, Checksum: idxCRC, Size: idxSize},
		CreatedAt:  time.Now().UTC(),
	}
	manifestFile := fmt.Sprintf("MANIFEST-%06d.json", gen)
	if _, _, err := m.atomicWrite(manifestFile, func(w io.Writer) error {
		data, err := m.codec.Marshal(manifest)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("persistence: manifest write failed: %w", err)
	}

	// The CURRENT swap is the commit point.
	if _, _, err := m.atomicWrite(CurrentFileName, func(w io.Writer) error {
		_, err := io.WriteString(w, manifestFile)
		return err
	}); err != nil {
		return fmt.Errorf("persistence: CURRENT swap failed: %w", err)
	}

	m.generation = gen
	m.gcLocked()
	return nil
}

// Close releases the run lock. The manager must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.lock != nil {
		_ = m.lock.Close()
	}
	return m.fsys.Remove(filepath.Join(m.dir, LockFileName))
}

// verifiedArtifact reads one snapshot artifact and checks size and checksum.
func (m *Manager) verifiedArtifact(a Artifact) ([]byte, error) {
	data, err := m.readFile(filepath.Join(m.dir, a.File))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrCorrupt, a.File, err)
	}
	if int64(len(data)) != a.Size {
		return nil, fmt.Errorf("%w: %s: size mismatch: expected %d, got %d", ErrCorrupt, a.File, a.Size, len(data))
	}
	if err := verifyChecksum(a.File, data, a.Checksum); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return data, nil
}

// atomicWrite writes a file via temp-file + fsync + rename, never mutating
// an existing file in place. Returns the CRC32 and size of the written bytes.
func (m *Manager) atomicWrite(name string, write func(w io.Writer) error) (uint32, int64, error) {
	target := filepath.Join(m.dir, name)
	tmpName := target + ".tmp"

	f, err := m.fsys.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, 0, err
	}

	cleanup := func() {
		_ = f.Close()
		_ = m.fsys.Remove(tmpName)
	}

	bw := bufio.NewWriterSize(f, 256*1024)
	cw := NewChecksumWriter(bw)
	if err := write(cw); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := bw.Flush(); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return 0, 0, err
	}
	if err := f.Close(); err != nil {
		_ = m.fsys.Remove(tmpName)
		return 0, 0, err
	}
	if err := m.fsys.Rename(tmpName, target); err != nil {
		_ = m.fsys.Remove(tmpName)
		return 0, 0, err
	}
	m.syncDir()
	return cw.Sum(), cw.Count(), nil
}

// syncDir fsyncs the state directory (best-effort) to persist renames.
func (m *Manager) syncDir() {
	if d, err := m.fsys.OpenFile(m.dir, os.O_RDONLY, 0); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
}

// gcLocked removes snapshot files older than the retained generations.
// Best-effort; stale files are harmless since readers only follow CURRENT.
func (m *Manager) gcLocked() {
	entries, err := m.fsys.ReadDir(m.dir)
	if err != nil {
		return
	}
	cutoff := int64(m.generation) - 1 - keepGenerations
	if cutoff < 0 {
		return
	}
	for _, e := range entries {
		var gen uint64
		name := e.Name()
		switch {
		case scanGen(name, "registry-%06d.json", &gen),
			scanGen(name, "index-%06d.bin", &gen),
			scanGen(name, "MANIFEST-%06d.json", &gen):
			if int64(gen) <= cutoff {
				_ = m.fsys.Remove(filepath.Join(m.dir, name))
			}
		}
	}
}

func scanGen(name, format string, gen *uint64) bool {
	var g uint64
	if n, err := fmt.Sscanf(name, format, &g); err != nil || n != 1 {
		return false
	}
	// Reject suffixed names like "registry-000001.json.tmp".
	if fmt.Sprintf(format, g) != name {
		return false
	}
	*gen = g
	return true
}

func (m *Manager) readFile(path string) ([]byte, error) {
	f, err := m.fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
