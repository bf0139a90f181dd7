package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// PatchHash computes the content-addressed identity of a patch: a SHA-256
// over the canonical fields, truncated to 128 bits. Hash inputs exclude the
// chain fields so the same mutation always hashes the same.
func PatchHash(p Patch) string {
	var b strings.Builder
	b.WriteString(p.GraphID)
	b.WriteByte('|')
	b.WriteString(strconv.FormatUint(p.Seq, 10))
	b.WriteByte('|')
	b.WriteString(fmt.Sprintf("%d", p.Timestamp.UnixMilli()))
	b.WriteByte('|')
	b.WriteString(string(p.Kind))
	b.WriteByte('|')
	b.WriteString(string(p.Subject))
	b.WriteByte('|')
	b.Write(p.PayloadJSON)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

// ChainHash links a patch to the full preceding log by hashing its content
// hash together with the previous patch's chain hash.
func ChainHash(p Patch, prevChainHash string) string {
	sum := sha256.Sum256([]byte(p.Hash + "|" + prevChainHash))
	return hex.EncodeToString(sum[:16])
}
