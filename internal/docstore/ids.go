package docstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewID derives the content-addressed document identifier. Identity is a
// pure function of these inputs: re-running at the same commit reproduces
// the same ID, and a changed commit produces a new one.
func NewID(docType Type, repoID, scope, commit string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s:%s", docType, repoID, scope, commit)))
	return hex.EncodeToString(sum[:])
}

// SymbolScope builds the scope segment for a symbol document. The
// separator keeps file paths and symbol names from colliding.
func SymbolScope(filePath, symbolName string) string {
	return filePath + "::" + symbolName
}

// ChunkScope builds the scope segment for the n-th section chunk of a
// prose document. Ordinals stay stable for unchanged content, headings
// need not be unique.
func ChunkScope(filePath string, n int) string {
	return fmt.Sprintf("%s#%d", filePath, n)
}
