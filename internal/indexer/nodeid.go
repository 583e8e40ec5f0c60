package indexer

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// nodeIDLen is the truncated hex length of a node ID. The hash is an
// identity key, not a security boundary.
const nodeIDLen = 16

// NodeID derives the stable identifier of a symbol node. No randomness and
// no clock: the same inputs always produce the same ID.
func NodeID(service, filePath, symbolName string, startLine int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%s:%s:%d", service, filePath, symbolName, startLine)))
	return hex.EncodeToString(sum[:])[:nodeIDLen]
}
