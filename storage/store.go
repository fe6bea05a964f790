package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"autoprice/models"
	"autoprice/utils"
)

// Record is what a dated store can hold.
type Record interface {
	PairKey() models.Pair
}

// Store persists one record family as OUTPUT_DIR/date=YYYY-MM-DD/<family>.<ext>.
// Saves are single-writer; loads are safe to run concurrently.
type Store[T Record] struct {
	dir    string
	family string
	format Format
	kind   Kind[T]
	logger *utils.Logger
}

// NewStore creates a store for one record family.
func NewStore[T Record](dir, family string, format Format, kind Kind[T], logger *utils.Logger) *Store[T] {
	if logger == nil {
		logger = utils.NewDiscardLogger()
	}
	return &Store[T]{dir: dir, family: family, format: format, kind: kind, logger: logger}
}

func (s *Store[T]) Family() string { return s.family }

func (s *Store[T]) Format() Format { return s.format }

// Dir returns the directory holding the given day's files.
func (s *Store[T]) Dir(key utils.DateKey) string {
	return filepath.Join(s.dir, key.String())
}

// Path returns the file for the given day and codec.
func (s *Store[T]) Path(key utils.DateKey, c Codec) string {
	return filepath.Join(s.Dir(key), s.family+"."+c.Ext())
}

// Exists reports whether the day has a file in any encoding.
func (s *Store[T]) Exists(key utils.DateKey) bool {
	_, read := codecsFor(s.format)
	for _, c := range read {
		if _, err := os.Stat(s.Path(key, c)); err == nil {
			return true
		}
	}
	return false
}

// Save writes records for the given day. In dual mode the binary file is
// written first; if the textual write fails the binary file is removed so no
// half-written day is left behind.
func (s *Store[T]) Save(key utils.DateKey, records []T) error {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = s.kind.Encode(r)
	}

	write, _ := codecsFor(s.format)
	var written []string
	for _, c := range write {
		path := s.Path(key, c)
		err := utils.WriteFileAtomic(path, func(w io.Writer) error {
			return c.Write(w, s.kind.Name, s.kind.Fields, rows)
		})
		if err != nil {
			for _, p := range written {
				_ = os.Remove(p)
			}
			return fmt.Errorf("storage: save %s: %w", path, err)
		}
		written = append(written, path)
	}
	s.logger.Debug("Saved %d %s rows to %s (%s)", len(records), s.family, s.Dir(key), s.format)
	return nil
}

// Load reads the given day's records. The configured encoding is tried first,
// then the other one. A day with no file yields no records and no error.
func (s *Store[T]) Load(key utils.DateKey) ([]T, error) {
	_, read := codecsFor(s.format)
	for _, c := range read {
		records, err := s.loadWith(key, c)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return records, nil
	}
	return nil, nil
}

func (s *Store[T]) loadWith(key utils.DateKey, c Codec) ([]T, error) {
	path := s.Path(key, c)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := c.Read(f, s.kind.Fields)
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", path, err)
	}

	day := key.Time()
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if !c.KeepsRecordedAt() || row.Time(RecordedAtField).IsZero() {
			row[RecordedAtField] = day
		}
		out = append(out, s.kind.Decode(row))
	}
	return out, nil
}

// MergeUpdate replaces the rows of the enabled pairs in the day's snapshot:
// rows of existing outside enabled are kept, every row of fresh is appended.
func (s *Store[T]) MergeUpdate(key utils.DateKey, existing, fresh []T, enabled models.PairSet) error {
	return s.Save(key, Merge(existing, fresh, enabled))
}

// Merge keeps the rows of existing whose (vendor, market) is not in enabled
// and appends all of fresh.
func Merge[T Record](existing, fresh []T, enabled models.PairSet) []T {
	out := make([]T, 0, len(existing)+len(fresh))
	for _, r := range existing {
		if !enabled.Contains(r.PairKey()) {
			out = append(out, r)
		}
	}
	return append(out, fresh...)
}

// Filter returns the day's records matching keep.
func (s *Store[T]) Filter(key utils.DateKey, keep func(T) bool) ([]T, error) {
	records, err := s.Load(key)
	if err != nil {
		return nil, err
	}
	return filter(records, keep), nil
}

func filter[T any](records []T, keep func(T) bool) []T {
	var out []T
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
