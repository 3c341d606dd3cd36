package symbolmap

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"ckb/internal/codegraph"
)

// fieldSep is the 0x1F (unit separator) byte spec.md's node_id formula
// joins fields with.
const fieldSep = "\x1f"

// NodeID implements §4.F's node_id = hash_lo128(project_id || 0x1F ||
// kind || 0x1F || fqn || 0x1F || uri): a SHA-256 digest of the
// separator-joined canonical parts, truncated to its low 128 bits and
// hex-encoded. Generalizes identity.ComputeStableFingerprint's
// sort-then-hash technique to this spec's fixed, ordered field layout —
// field order here is itself the canonicalization, so no sort is needed.
func NodeID(projectID string, kind codegraph.NodeKind, fqn, uri string) string {
	canonical := projectID + fieldSep + string(kind) + fieldSep + fqn + fieldSep + uri
	sum := sha256.Sum256([]byte(canonical))
	lo128 := sum[16:32]
	return hex.EncodeToString(lo128)
}

// ComputeDefinitionVersionID is a second, independent fingerprint over a
// node's definition site (kind, fqn, uri, and source range), used to
// detect whether a previously-mapped definition actually changed across
// a re-run without recomputing node_id (which is deliberately
// range-independent so a symbol's identity survives a reformat). Uses
// blake2b-256 rather than sha256 so the two hash families never collide
// by construction, mirroring the teacher's separation of the identity
// hash from its non-identity hashing.
func ComputeDefinitionVersionID(kind codegraph.NodeKind, fqn, uri string, rng codegraph.Range) string {
	var rangeBuf [16]byte
	binary.BigEndian.PutUint32(rangeBuf[0:4], uint32(rng.StartLine))
	binary.BigEndian.PutUint32(rangeBuf[4:8], uint32(rng.StartChar))
	binary.BigEndian.PutUint32(rangeBuf[8:12], uint32(rng.EndLine))
	binary.BigEndian.PutUint32(rangeBuf[12:16], uint32(rng.EndChar))

	canonical := string(kind) + fieldSep + fqn + fieldSep + uri + fieldSep + string(rangeBuf[:])
	sum := blake2b.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
