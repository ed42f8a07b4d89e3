package keystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/fxamacker/cbor/v2"
)

// recordIDPattern restricts on-disk record names to handle-shaped ids,
// preventing path traversal through attacker-influenced ids.
var recordIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,64}$`)

// FileStore persists one CBOR-encoded record per file under a
// directory. Files are written 0600 and the directory 0700.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating keystore directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if !recordIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid record id %q", id)
	}
	return filepath.Join(s.dir, id+".rec"), nil
}

func (s *FileStore) Put(ctx context.Context, id string, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	// Write-then-rename so a crash mid-write never leaves a truncated
	// record under the final name.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing record: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	path, err := s.path(id)
	if err != nil {
		return Record{}, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading record: %w", err)
	}
	var rec Record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return rec, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(id)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}
