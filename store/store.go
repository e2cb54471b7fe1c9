// Package store owns the header and entry table of the index segment and the
// value slots of the data segment.
//
// The store performs versioned initialization with double-checked locking,
// triple lookup, and the grow-and-publish append protocol: a new entry's data
// slot is zeroed and its 16 bytes written before the cursor pair is rewritten,
// all inside one exclusive lock envelope, so concurrent readers either see the
// entry fully published or not at all.
package store

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/pcpkit/shmstats/codec"
	"github.com/pcpkit/shmstats/endian"
	"github.com/pcpkit/shmstats/errs"
	"github.com/pcpkit/shmstats/flock"
	"github.com/pcpkit/shmstats/section"
	"github.com/pcpkit/shmstats/shm"
)

// Config carries the knobs for opening a store.
type Config struct {
	// Path is the rendezvous file location. Writable stores create it empty
	// when absent.
	Path string

	// Version is the layout version this producer expects, >= 1.
	Version uint32

	// PhysicalCount sizes the segments at creation time.
	PhysicalCount int

	// ReadOnly disables creation and every mutation.
	ReadOnly bool

	// LockTimeout overrides flock.DefaultTimeout when non-zero.
	LockTimeout time.Duration

	// Logger receives structured diagnostics; nil means no logging.
	Logger *zap.Logger
}

// Store is the header/index manager over one segment pair.
type Store struct {
	path     string
	version  uint32
	readOnly bool
	engine   endian.EndianEngine
	formats  *codec.Cache
	pair     *shm.Pair
	lock     *flock.Lock
	logger   *zap.Logger
}

// Open opens the rendezvous file, both segments, and initializes or upgrades
// the header.
//
// Initialization is double-checked: the version is read lock-free first, and
// only a zero version takes the exclusive lock, re-reads, and writes the
// fresh header. A reader that finds a zero version fails with
// errs.ErrUninitialized. A stored version newer than cfg.Version demotes this
// store to a reader; an older one gets its version field rewritten in place.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if !cfg.ReadOnly {
		if err := ensureKeyFile(cfg.Path); err != nil {
			logger.Error("cannot create rendezvous file", zap.String("path", cfg.Path), zap.Error(err))
			return nil, err
		}
	}

	timeout := cfg.LockTimeout
	if timeout == 0 {
		timeout = flock.DefaultTimeout
	}

	lock, err := flock.OpenWithTimeout(cfg.Path, timeout)
	if err != nil {
		logger.Error("cannot open rendezvous lock", zap.String("path", cfg.Path), zap.Error(err))
		return nil, err
	}

	pair, err := shm.OpenPair(cfg.Path, cfg.PhysicalCount, cfg.ReadOnly)
	if err != nil {
		lock.Close()
		logger.Error("cannot open segment pair", zap.String("path", cfg.Path), zap.Error(err))
		return nil, err
	}

	engine := endian.Native()
	s := &Store{
		path:     cfg.Path,
		version:  cfg.Version,
		readOnly: cfg.ReadOnly,
		engine:   engine,
		formats:  codec.NewCache(engine),
		pair:     pair,
		lock:     lock,
		logger:   logger,
	}

	if err := s.initialize(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func ensureKeyFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create rendezvous file %s: %w", path, err)
	}

	return f.Close()
}

func (s *Store) initialize() error {
	header, err := s.Header()
	if err != nil {
		return err
	}

	if header.Version == 0 {
		if s.readOnly {
			return fmt.Errorf("index segment %s: %w", s.path, errs.ErrUninitialized)
		}

		initialized := false
		err := s.lock.WithExclusive(func() error {
			// Double-checked: another producer may have initialized between
			// the lock-free read and lock acquisition.
			current, err := s.Header()
			if err != nil {
				return err
			}
			if current.Version != 0 {
				header = current
				return nil
			}

			fresh := section.NewHeader(s.version)
			if err := s.pair.Index.WriteAt(0, fresh.Bytes(s.engine)); err != nil {
				return fmt.Errorf("write fresh header: %w", err)
			}

			s.logger.Info("initialized metrics store",
				zap.String("path", s.path),
				zap.Uint32("version", s.version))
			initialized = true

			return nil
		})
		if err != nil {
			return err
		}
		if initialized {
			return nil
		}
	}

	return s.reconcileVersion(header.Version)
}

// reconcileVersion handles a non-zero stored version: upgrade in place when
// ours is newer, demote to reader when theirs is.
func (s *Store) reconcileVersion(stored uint32) error {
	switch {
	case stored == s.version:
		return nil

	case stored > s.version:
		s.logger.Warn("store version newer than requested, operating as reader",
			zap.Uint32("stored", stored),
			zap.Uint32("requested", s.version))
		s.readOnly = true

		return nil

	default: // stored < s.version
		if s.readOnly {
			return nil
		}

		return s.lock.WithExclusive(func() error {
			header, err := s.Header()
			if err != nil {
				return err
			}
			if header.Version >= s.version {
				return nil
			}

			// Rewrite only the version field; the cursors keep whatever the
			// older producers appended.
			var b [section.VersionSize]byte
			s.engine.PutUint32(b[:], s.version)
			if err := s.pair.Index.WriteAt(0, b[:]); err != nil {
				return fmt.Errorf("upgrade version: %w", err)
			}

			s.logger.Info("upgraded store version",
				zap.Uint32("from", header.Version),
				zap.Uint32("to", s.version))

			return nil
		})
	}
}

// Header reads the 12-byte header without locking. Safe because the cursor
// pair only moves forward and entries below a sampled cursor are immutable.
func (s *Store) Header() (section.Header, error) {
	data, err := s.pair.Index.ReadAt(0, section.HeaderSize)
	if err != nil {
		return section.Header{}, err
	}

	return section.ParseHeader(data, s.engine)
}

// Path returns the rendezvous file path.
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether mutations are disabled, either by configuration or
// by a version demotion.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Find scans the entry table for the triple under the shared lock.
//
// Returns:
//   - section.IndexEntry: The matching entry, valid only when found.
//   - bool: Whether the triple is present.
//   - error: Lock or segment failures.
func (s *Store) Find(cluster uint16, item uint16, instance int32) (section.IndexEntry, bool, error) {
	var (
		entry section.IndexEntry
		found bool
	)

	err := s.lock.WithShared(func() error {
		var err error
		entry, found, err = s.scan(cluster, item, instance)

		return err
	})

	return entry, found, err
}

// scan walks the entry table from EntryStartOffset up to the sampled
// next-index cursor. Callers hold whatever lock their context requires.
func (s *Store) scan(cluster uint16, item uint16, instance int32) (section.IndexEntry, bool, error) {
	header, err := s.Header()
	if err != nil {
		return section.IndexEntry{}, false, err
	}

	end := int(header.NextIndexOffset)
	if end <= section.EntryStartOffset {
		return section.IndexEntry{}, false, nil
	}

	table, err := s.pair.Index.ReadAt(section.EntryStartOffset, end-section.EntryStartOffset)
	if err != nil {
		return section.IndexEntry{}, false, err
	}

	for off := 0; off+section.EntrySize <= len(table); off += section.EntrySize {
		entry, err := section.ParseIndexEntry(table[off:off+section.EntrySize], s.engine)
		if err != nil {
			return section.IndexEntry{}, false, err
		}
		if entry.Matches(cluster, item, instance) {
			return entry, true, nil
		}
	}

	return section.IndexEntry{}, false, nil
}

// Append publishes a new entry for the triple and returns it.
//
// The whole sequence runs under the exclusive lock: re-scan to resolve lost
// races, capacity checks, zeroing the new data slot, writing the entry, and
// finally rewriting the cursor pair. The cursors are only advanced after the
// slot and entry bytes are in place, and never when any earlier step fails.
//
// Returns:
//   - section.IndexEntry: The appended (or already present) entry.
//   - error: errs.ErrIndexFull, errs.ErrDataFull, errs.ErrReadOnly, lock or
//     segment failures.
func (s *Store) Append(cluster uint16, item uint16, instance int32, code codec.TypeCode) (section.IndexEntry, error) {
	if s.readOnly {
		return section.IndexEntry{}, errs.ErrReadOnly
	}
	if !code.Valid() {
		return section.IndexEntry{}, errs.ErrInvalidTypeCode
	}

	var result section.IndexEntry

	err := s.lock.WithExclusive(func() error {
		// Another process may have appended this triple while we waited for
		// the lock; append is idempotent.
		if entry, found, err := s.scan(cluster, item, instance); err != nil {
			return err
		} else if found {
			result = entry
			return nil
		}

		header, err := s.Header()
		if err != nil {
			return err
		}

		if int(header.NextIndexOffset)+section.EntrySize > s.pair.Index.Size() {
			return errs.ErrIndexFull
		}

		newLength := code.Size()
		if int(header.NextDataOffset)+newLength > s.pair.Data.Size() {
			return errs.ErrDataFull
		}

		// A failed zero write leaves the cursors un-advanced.
		if err := s.pair.Data.Zero(int(header.NextDataOffset), newLength); err != nil {
			return fmt.Errorf("zero data slot: %w", err)
		}

		entry := section.IndexEntry{
			Flags:    0,
			TypeCode: byte(code),
			Length:   uint16(newLength), //nolint: gosec
			Offset:   header.NextDataOffset,
			Cluster:  cluster,
			Item:     item,
			Instance: instance,
		}
		if err := s.pair.Index.WriteAt(int(header.NextIndexOffset), entry.Bytes(s.engine)); err != nil {
			return fmt.Errorf("write index entry: %w", err)
		}

		header.NextIndexOffset += section.EntrySize
		header.NextDataOffset += uint32(newLength) //nolint: gosec
		if err := s.pair.Index.WriteAt(section.CursorOffset, header.CursorBytes(s.engine)); err != nil {
			return fmt.Errorf("advance cursors: %w", err)
		}

		result = entry

		return nil
	})
	if err != nil {
		return section.IndexEntry{}, err
	}

	return result, nil
}

// ReadValue unpacks the scalar stored in the entry's data slot.
func (s *Store) ReadValue(entry section.IndexEntry) (int64, error) {
	format, err := s.slotFormat(entry)
	if err != nil {
		return 0, err
	}

	data, err := s.pair.Data.ReadAt(int(entry.Offset), int(entry.Length))
	if err != nil {
		return 0, err
	}

	values, err := format.Decode(data)
	if err != nil {
		return 0, err
	}

	return values[0], nil
}

// WriteValue packs v into the entry's data slot. The caller validates range;
// the codec still rejects values that cannot fit the slot width.
func (s *Store) WriteValue(entry section.IndexEntry, v int64) error {
	if s.readOnly {
		return errs.ErrReadOnly
	}

	format, err := s.slotFormat(entry)
	if err != nil {
		return err
	}

	data, err := format.Encode(v)
	if err != nil {
		return err
	}

	return s.pair.Data.WriteAt(int(entry.Offset), data)
}

// slotFormat returns the memoized single-field format for the entry's type
// code.
func (s *Store) slotFormat(entry section.IndexEntry) (*codec.Format, error) {
	code := codec.TypeCode(entry.TypeCode)
	if !code.Valid() {
		return nil, errs.ErrInvalidTypeCode
	}

	return s.formats.Lookup(string(entry.TypeCode), codec.Field{Name: "value", Code: code})
}

// Entries returns a snapshot of the published entry table, bounded by the
// cursor sampled at call time.
func (s *Store) Entries() ([]section.IndexEntry, error) {
	var entries []section.IndexEntry

	err := s.lock.WithShared(func() error {
		header, err := s.Header()
		if err != nil {
			return err
		}

		end := int(header.NextIndexOffset)
		if end <= section.EntryStartOffset {
			return nil
		}

		table, err := s.pair.Index.ReadAt(section.EntryStartOffset, end-section.EntryStartOffset)
		if err != nil {
			return err
		}

		entries = make([]section.IndexEntry, 0, len(table)/section.EntrySize)
		for off := 0; off+section.EntrySize <= len(table); off += section.EntrySize {
			entry, err := section.ParseIndexEntry(table[off:off+section.EntrySize], s.engine)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// Snapshot copies the raw bytes of both segments under the shared lock, for
// offline inspection and archiving.
func (s *Store) Snapshot() (index []byte, data []byte, err error) {
	err = s.lock.WithShared(func() error {
		var err error
		index, err = s.pair.Index.ReadAt(0, s.pair.Index.Size())
		if err != nil {
			return err
		}
		data, err = s.pair.Data.ReadAt(0, s.pair.Data.Size())

		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return index, data, nil
}

// Close detaches both segments and releases the lock handle. The segments
// stay alive for other processes.
func (s *Store) Close() error {
	var firstErr error
	if s.pair != nil {
		firstErr = s.pair.Close()
		s.pair = nil
	}
	if s.lock != nil {
		if err := s.lock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.lock = nil
	}

	return firstErr
}

// Delete destroys both segments and optionally unlinks the rendezvous file.
// Idempotent.
func (s *Store) Delete(dropKeyFile bool) error {
	var firstErr error
	if s.pair != nil {
		firstErr = s.pair.Remove()
		s.pair = nil
	}
	if s.lock != nil {
		if err := s.lock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.lock = nil
	}
	if dropKeyFile {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
