// Package migrations embeds the PostgreSQL schema of the validation service and
// checks the embedded files before golang-migrate applies them.
package migrations

import (
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

var (
	// ErrNoMigrations is returned when the file system holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")
	// ErrInvalidFilename is returned for a .sql file outside the 001_name.(up|down).sql standard.
	ErrInvalidFilename = errors.New("invalid migration filename")
	// ErrUnpaired is returned when an up migration has no down migration or the reverse.
	ErrUnpaired = errors.New("unpaired migration")
	// ErrSequenceGap is returned when the sequence does not start at 001 or skips a number.
	ErrSequenceGap = errors.New("gap in migration sequence")
)

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Info contains parsed information about a migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// Set is a validated view over a migration file system.
type Set struct {
	fs        fs.FS
	checksums map[string]string
}

// FS returns the migrations embedded at build time.
func FS() fs.FS {
	return embedded
}

// New creates a Set over the given file system. Pass nil to use the embedded migrations.
func New(filesystem fs.FS) *Set {
	if filesystem == nil {
		filesystem = embedded
	}

	return &Set{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// FS returns the file system the set reads from.
func (s *Set) FS() fs.FS {
	return s.fs
}

// List returns the migration files that follow the naming standard, sorted lexicographically.
func (s *Set) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		if !filenameRegex.MatchString(entry.Name()) {
			return nil, fmt.Errorf("%w: %s (expected: 001_name.up.sql or 001_name.down.sql)",
				ErrInvalidFilename, entry.Name())
		}

		files = append(files, entry.Name())
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks pairing and sequencing of the migration files and, on later calls,
// that no file changed since the first successful validation.
func (s *Set) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	infos := make([]Info, 0, len(files))

	for _, file := range files {
		info, err := Parse(file)
		if err != nil {
			return err
		}

		infos = append(infos, info)
	}

	if err := validatePairing(infos); err != nil {
		return err
	}

	if err := validateSequence(infos); err != nil {
		return err
	}

	for _, file := range files {
		content, err := fs.ReadFile(s.fs, file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		sum := fmt.Sprintf("%x", sha256.Sum256(content))
		if stored, ok := s.checksums[file]; ok && stored != sum {
			return fmt.Errorf("checksum mismatch for %s: file has been modified", file)
		}

		s.checksums[file] = sum
	}

	return nil
}

// MaxVersion returns the highest migration sequence number in the set, or 0 if it cannot be read.
func (s *Set) MaxVersion() int {
	files, err := s.List()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, file := range files {
		if info, err := Parse(file); err == nil && info.Sequence > maxSequence {
			maxSequence = info.Sequence
		}
	}

	return maxSequence
}

// Parse extracts the sequence, name and direction from a migration filename.
func Parse(filename string) (Info, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return Info{}, fmt.Errorf("%w: %s", ErrInvalidFilename, filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s: %w", ErrInvalidFilename, filename, err)
	}

	return Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

func validatePairing(infos []Info) error {
	directions := make(map[string]map[string]bool)

	for _, info := range infos {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][info.Direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("%w: missing up migration for %s", ErrUnpaired, key)
		}

		if !seen["down"] {
			return fmt.Errorf("%w: missing down migration for %s", ErrUnpaired, key)
		}
	}

	return nil
}

func validateSequence(infos []Info) error {
	seen := make(map[int]bool)

	var sequences []int

	for _, info := range infos {
		if !seen[info.Sequence] {
			seen[info.Sequence] = true
			sequences = append(sequences, info.Sequence)
		}
	}

	sort.Ints(sequences)

	if sequences[0] != 1 {
		return fmt.Errorf("%w: should start with 001, found %03d", ErrSequenceGap, sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrSequenceGap, sequences[i-1]+1, sequences[i])
		}
	}

	return nil
}
