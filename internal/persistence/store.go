package persistence

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/talgya/mars-colony/internal/engine"
	"github.com/talgya/mars-colony/internal/simerr"
)

// Format is an on-disk save layout.
type Format int

const (
	FormatSnapshot Format = iota // zstd JSON stream
	FormatSQLite
)

// FormatFor picks the layout from the file extension: .db, .sqlite and
// .sqlite3 are SQLite; anything else is a compressed snapshot.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatSnapshot
	}
}

// Write saves snap to dest. The file is built next to dest and renamed over
// it only once complete, so a failed write leaves any previous save intact.
// Returns the size of the written file.
func Write(dest string, snap *engine.Snapshot) (int64, error) {
	if dest == "" {
		return 0, fmt.Errorf("empty save destination: %w", simerr.ErrInvalidArgument)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create save dir: %v: %w", err, simerr.ErrIOFailure)
	}

	tmp := dest + ".tmp-" + uuid.NewString()
	defer os.Remove(tmp) // no-op after a successful rename

	var err error
	switch FormatFor(dest) {
	case FormatSQLite:
		err = writeDB(tmp, snap)
	default:
		err = WriteSnapshot(tmp, snap)
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %v: %w", dest, err, simerr.ErrIOFailure)
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %v: %w", tmp, err, simerr.ErrIOFailure)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return 0, fmt.Errorf("replace %s: %v: %w", dest, err, simerr.ErrIOFailure)
	}
	return info.Size(), nil
}

func writeDB(path string, snap *engine.Snapshot) error {
	db, err := Open(path)
	if err != nil {
		return err
	}
	if err := db.SaveSnapshot(snap); err != nil {
		db.Close()
		return err
	}
	return db.Close()
}

// Load reads a save written by Write.
func Load(path string) (*engine.Snapshot, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("save %s: %w", path, simerr.ErrNotFound)
		}
		return nil, fmt.Errorf("save %s: %v: %w", path, err, simerr.ErrIOFailure)
	}

	var (
		snap *engine.Snapshot
		err  error
	)
	switch FormatFor(path) {
	case FormatSQLite:
		snap, err = loadDB(path)
	default:
		snap, err = ReadSnapshot(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %v: %w", path, err, simerr.ErrIOFailure)
	}
	return snap, nil
}

func loadDB(path string) (*engine.Snapshot, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.LoadSnapshot()
}

// Exists reports whether a save file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
