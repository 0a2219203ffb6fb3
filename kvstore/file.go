package kvstore

import (
	"context"
	"crypto/md5"
	"fmt"
	"math/rand"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// File stores each key as one file under a directory. Writes go to a
// temporary file first, then rename, so readers never observe a partial
// value.
type File struct {
	dir string
}

// NewFile creates a file-backed store rooted at dir. If dir is empty it
// defaults to ~/.roadbook/store.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		usr, err := user.Current()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(usr.HomeDir, ".roadbook", "store")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &File{dir: dir}, nil
}

// Get implements Store.
func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// Set implements Store.
func (f *File) Set(_ context.Context, key, value string) error {
	path := f.path(key)
	tmpPath := path + fmt.Sprintf(".tmp.%d", rand.Int())
	if err := os.WriteFile(tmpPath, []byte(value), 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Remove implements Store.
func (f *File) Remove(_ context.Context, key string) error {
	err := os.Remove(f.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveMany implements Store.
func (f *File) RemoveMany(ctx context.Context, keys []string) error {
	for _, k := range keys {
		if err := f.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

// sanitizeKey makes a key safe for use as a filename. Very long keys
// collapse to a hash to stay within filesystem limits.
func sanitizeKey(key string) string {
	if len(key) > 200 {
		hash := md5.Sum([]byte(key))
		return fmt.Sprintf("hash_%x", hash)
	}

	unsafe := []string{"/", "\\", ":", "?", "&", "=", "#", "<", ">", "|", "*", "\"", " "}
	result := key
	for _, char := range unsafe {
		result = strings.ReplaceAll(result, char, "_")
	}
	return result
}
