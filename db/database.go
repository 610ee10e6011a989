package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
)

// ManifestFilename names the database's table listing.
const ManifestFilename = "manifest.json"

var (
	ErrTableExists = errors.New("db: table already exists")
	ErrNoSuchTable = errors.New("db: no such table")
)

type manifest struct {
	Name   string   `json:"name"`
	Tables []string `json:"tables"`
}

// Database is a directory of tables described by a manifest. Tables open
// lazily and stay open until the database closes.
type Database struct {
	path   string
	names  map[string]struct{}
	tables map[string]*Table
}

// OpenDatabase opens (creating if needed) the database directory and
// reads its manifest. Tables named by the manifest are not opened until
// first use.
func OpenDatabase(path string) (*Database, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("db: create database directory %s: %w", path, err)
	}

	d := &Database{
		path:   path,
		names:  make(map[string]struct{}),
		tables: make(map[string]*Table),
	}
	if err := d.loadManifest(); err != nil {
		return nil, err
	}
	return d, nil
}

// Name returns the database name, the base of its directory.
func (d *Database) Name() string { return filepath.Base(d.path) }

// Path returns the database directory.
func (d *Database) Path() string { return d.path }

// CreateTable adds a table and opens it.
func (d *Database) CreateTable(name string) (*Table, error) {
	if _, ok := d.names[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrTableExists, name)
	}
	table, err := OpenTable(d.path, name)
	if err != nil {
		return nil, err
	}
	d.names[name] = struct{}{}
	d.tables[name] = table
	if err := d.saveManifest(); err != nil {
		return nil, err
	}
	return table, nil
}

// GetTable returns an existing table, opening it on first use.
func (d *Database) GetTable(name string) (*Table, error) {
	if table, ok := d.tables[name]; ok {
		return table, nil
	}
	if _, ok := d.names[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchTable, name)
	}
	table, err := OpenTable(d.path, name)
	if err != nil {
		return nil, err
	}
	d.tables[name] = table
	return table, nil
}

// DropTable closes a table and deletes its directory.
func (d *Database) DropTable(name string) error {
	if _, ok := d.names[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchTable, name)
	}
	if table, ok := d.tables[name]; ok {
		table.Close()
		delete(d.tables, name)
	}
	delete(d.names, name)
	if err := os.RemoveAll(filepath.Join(d.path, name)); err != nil {
		return fmt.Errorf("db: remove table %q: %w", name, err)
	}
	return d.saveManifest()
}

// Clear drops every table.
func (d *Database) Clear() error {
	for _, name := range d.Tables() {
		if err := d.DropTable(name); err != nil {
			return err
		}
	}
	return nil
}

// Tables returns the table names in sorted order.
func (d *Database) Tables() []string {
	names := make([]string, 0, len(d.names))
	for name := range d.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every open table.
func (d *Database) Close() error {
	var firstErr error
	for _, table := range d.tables {
		if err := table.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.tables = make(map[string]*Table)
	return firstErr
}

func (d *Database) manifestPath() string {
	return filepath.Join(d.path, ManifestFilename)
}

func (d *Database) loadManifest() error {
	data, err := os.ReadFile(d.manifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return d.scanTables()
		}
		return fmt.Errorf("db: read %s: %w", d.manifestPath(), err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("db: parse %s: %w", d.manifestPath(), err)
	}
	for _, name := range m.Tables {
		d.names[name] = struct{}{}
	}
	return nil
}

// scanTables recovers the table listing from the directory when no
// manifest exists yet.
func (d *Database) scanTables() error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return fmt.Errorf("db: read directory %s: %w", d.path, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			d.names[entry.Name()] = struct{}{}
		}
	}
	if len(d.names) == 0 {
		return nil
	}
	return d.saveManifest()
}

func (d *Database) saveManifest() error {
	data, err := json.MarshalIndent(manifest{Name: d.Name(), Tables: d.Tables()}, "", "  ")
	if err != nil {
		return fmt.Errorf("db: encode manifest: %w", err)
	}
	if err := os.WriteFile(d.manifestPath(), data, 0o644); err != nil {
		return fmt.Errorf("db: write %s: %w", d.manifestPath(), err)
	}
	return nil
}
