package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tolelom/quorumchain/chain"
)

// writeAtomic writes data to path via write-temp, fsync, rename — the
// discipline every durable artifact in this package follows so a crash
// mid-write never leaves a torn file at the final path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return chain.New(chain.KindStoreIOError, fmt.Errorf("create temp file in %s: %w", dir, err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return chain.New(chain.KindStoreIOError, fmt.Errorf("write temp file %s: %w", tmpName, err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return chain.New(chain.KindFsyncFailure, fmt.Errorf("fsync %s: %w", tmpName, err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return chain.New(chain.KindStoreIOError, fmt.Errorf("close temp file %s: %w", tmpName, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return chain.New(chain.KindStoreIOError, fmt.Errorf("rename %s to %s: %w", tmpName, path, err))
	}
	return nil
}
