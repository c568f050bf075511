package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/conneroisu/fwatch/internal/digest"
)

// blobStore keeps one zstd-compressed file per distinct digest under
// <root>/<first two hex>/<remaining hex>.zst.
type blobStore struct {
	root string
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

func newBlobStore(root string) (*blobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create objects directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}

	return &blobStore{root: root, enc: enc, dec: dec}, nil
}

func (b *blobStore) path(hash string) string {
	return filepath.Join(b.root, hash[:2], hash[2:]+".zst")
}

// has reports whether a blob for hash is already on disk.
func (b *blobStore) has(hash string) bool {
	_, err := os.Stat(b.path(hash))
	return err == nil
}

// put persists payload under hash. Existing blobs are left alone. The file is
// fsynced before the rename so a committed history row never points at a
// partial blob.
func (b *blobStore) put(hash string, payload []byte) error {
	if b.has(hash) {
		return nil
	}

	final := b.path(hash)
	dir := filepath.Dir(final)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b.enc.EncodeAll(payload, nil)); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return err
	}

	return syncDir(dir)
}

// get loads and verifies the payload stored under hash.
func (b *blobStore) get(hash string) ([]byte, error) {
	data, err := os.ReadFile(b.path(hash))
	if err != nil {
		return nil, err
	}

	payload, err := b.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("corrupt blob %s: %w", digest.Short(hash), err)
	}
	if got := digest.Sum(payload); got != hash {
		return nil, fmt.Errorf("blob %s fails verification (got %s)", digest.Short(hash), digest.Short(got))
	}

	return payload, nil
}

func (b *blobStore) close() {
	b.enc.Close()
	b.dec.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, fs.ErrInvalid) {
		return err
	}
	return nil
}
