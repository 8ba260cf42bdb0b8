package storage

import (
	"errors"
	"io/fs"
	"os"
)

// sqliteSidecars are the files SQLite keeps next to a database in WAL or rollback mode.
var sqliteSidecars = []string{"", "-wal", "-shm", "-journal"}

// DatabaseSize returns the bytes a SQLite database occupies on disk, sidecar files
// included. Sidecars that do not exist count as zero.
func DatabaseSize(dbPath string) (int64, error) {
	var total int64
	for _, suffix := range sqliteSidecars {
		info, err := os.Stat(dbPath + suffix)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return 0, err
		case info.Mode().IsRegular():
			total += info.Size()
		}
	}
	return total, nil
}
