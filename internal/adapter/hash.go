package adapter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// deterministicID produces a stable fallback document_id for an adapter
// result that didn't assign one explicitly, per spec.md §9 open question 4.
func deterministicID(content string, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", index, content)))
	return hex.EncodeToString(sum[:])[:16]
}
