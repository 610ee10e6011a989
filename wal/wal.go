// Package wal implements the write-ahead log: a single append-only text
// file inside the engine directory. One record per line,
//
//	<type code> <entry>
//
// where the type code is 0 for a put and 1 for a remove, and the entry
// carries the same [<key>|<value-or-null>] framing as an on-disk table
// record. Replay applies records in append order and is idempotent, so a
// record may safely describe an operation that was already flushed.
package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Priyanshu23/FlashTSGo/series"
)

// Filename is the log's name inside the engine directory.
const Filename = "wal.log"

// ErrCorrupt is returned when a record line cannot be parsed; replay
// aborts at the first such line.
var ErrCorrupt = errors.New("wal: corrupt record")

// RecordType distinguishes the two logical operations.
type RecordType int

const (
	RecordPut RecordType = iota
	RecordRemove
)

// Record is one logical operation.
type Record[V series.Value] struct {
	Type  RecordType
	Entry series.Entry[V]
}

// Engine is the write surface replay drives. Both calls are made with
// log=false so replaying never appends to the log being replayed.
type Engine[V series.Value] interface {
	Put(key series.Key, value V, log bool) error
	Remove(key series.Key, log bool) error
}

// WAL appends to and replays a single log file. No long-lived writer
// handle is kept: each append opens the file in append mode, writes one
// line, syncs, and closes.
type WAL[V series.Value] struct {
	path string
}

// New attaches a log inside dir. The file itself is created lazily by the
// first append.
func New[V series.Value](dir string) *WAL[V] {
	return &WAL[V]{path: filepath.Join(dir, Filename)}
}

// Append durably writes one record.
func (w *WAL[V]) Append(rec Record[V]) error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open %s: %w", w.path, err)
	}
	defer file.Close()

	line := strconv.Itoa(int(rec.Type)) + " " + series.FormatEntry(rec.Entry) + "\n"
	if _, err := file.WriteString(line); err != nil {
		return fmt.Errorf("wal: append %s: %w", w.path, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("wal: sync %s: %w", w.path, err)
	}
	return nil
}

// Replay reads the log and applies each record to the engine in append
// order with log=false. A missing file is the first-run case and a no-op.
// Any unparsable line aborts with ErrCorrupt before anything is applied.
//
// The whole file is read up front: applying a record can flush the engine,
// and a flush truncates the very log being replayed.
func (w *WAL[V]) Replay(engine Engine[V]) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("wal: read %s: %w", w.path, err)
	}

	var records []Record[V]
	for i, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		rec, err := parseRecord[V](line)
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrCorrupt, i+1, err)
		}
		records = append(records, rec)
	}

	for i, rec := range records {
		switch rec.Type {
		case RecordPut:
			err = engine.Put(rec.Entry.Key, *rec.Entry.Value, false)
		case RecordRemove:
			err = engine.Remove(rec.Entry.Key, false)
		}
		if err != nil {
			return fmt.Errorf("wal: replay record %d: %w", i+1, err)
		}
	}
	return nil
}

// Truncate empties the log.
func (w *WAL[V]) Truncate() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("wal: truncate %s: %w", w.path, err)
	}
	return file.Close()
}

// Remove deletes the log file if present.
func (w *WAL[V]) Remove() error {
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wal: remove %s: %w", w.path, err)
	}
	return nil
}

// Path returns the log's filesystem path.
func (w *WAL[V]) Path() string { return w.path }

func parseRecord[V series.Value](line string) (Record[V], error) {
	if len(line) < 3 || line[1] != ' ' {
		return Record[V]{}, fmt.Errorf("malformed line %q", line)
	}

	code, err := strconv.Atoi(line[:1])
	if err != nil {
		return Record[V]{}, fmt.Errorf("type code in %q", line)
	}
	recType := RecordType(code)
	if recType != RecordPut && recType != RecordRemove {
		return Record[V]{}, fmt.Errorf("unknown type code %d", code)
	}

	entry, err := series.ParseEntry[V](line[2:])
	if err != nil {
		return Record[V]{}, err
	}
	if recType == RecordPut && entry.Tombstone() {
		return Record[V]{}, fmt.Errorf("put record without a value in %q", line)
	}
	return Record[V]{Type: recType, Entry: entry}, nil
}
