package kvstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const fileExt = ".kv.zst"

// FileStore はキーごとに1ファイルを作成してディレクトリに保存するStore。
// 値はzstdで圧縮し、一時ファイルへの書き込み→fsync→renameで原子的に置き換える。
type FileStore struct {
	dir     string
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewFileStore はFileStoreを生成する。ディレクトリが無ければ作成する。
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("kvstore: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &FileStore{dir: dir, encoder: encoder, decoder: decoder}, nil
}

// Get はキーのファイルを読み込み展開して返す。ファイルが無ければfound=false。
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	value, err := s.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decompress %q: %w", key, err)
	}
	return value, true, nil
}

// Set は値を圧縮してキーのファイルを原子的に置き換える。
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	data := s.encoder.EncodeAll(value, make([]byte, 0, len(value)/2))

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	tmp := target + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %q: %w", key, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %q: %w", key, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %q: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %q: %w", key, err)
	}
	return nil
}

// Remove はキーのファイルを削除する。
func (s *FileStore) Remove(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %q: %w", key, err)
	}
	return nil
}

// Close はzstdのエンコーダ/デコーダを解放する。
func (s *FileStore) Close() error {
	s.decoder.Close()
	return s.encoder.Close()
}

// path はキーをhexエンコードしたファイルパスを返す。
// ユーザーIDに "/" や ".." が含まれてもディレクトリ外に出ない。
func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, hex.EncodeToString([]byte(key))+fileExt)
}

var _ Store = (*FileStore)(nil)
