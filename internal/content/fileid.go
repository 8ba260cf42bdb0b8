package content

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const fileIDPrefix = "file:"

// FileItemID returns the stable content id of a document file, derived from its path
// relative to the content directory. The same path always yields the same id.
func FileItemID(relPath string) string {
	normalized := filepath.ToSlash(filepath.Clean(relPath))
	hash := sha256.Sum256([]byte(normalized))
	return fileIDPrefix + hex.EncodeToString(hash[:])
}
