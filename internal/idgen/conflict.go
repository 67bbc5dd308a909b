package idgen

import "fmt"

// FNV-1a constants, per the offset/prime the store's conflict signatures
// are defined against. Changing these would change every ConflictId ever
// minted, so they are frozen.
const (
	fnvOffset64 uint64 = 14695981039346656037
	fnvPrime64  uint64 = 1099511628211

	// conflictSeedXOR disambiguates the second hash round from the first.
	// Treated as a stable constant; never change it.
	conflictSeedXOR uint64 = 0x9e3779b97f4a7c15
)

// fnv1a hashes data starting from seed using the FNV-1a mixing function.
func fnv1a(seed uint64, data []byte) uint64 {
	h := seed
	for _, b := range data {
		h ^= uint64(b)
		h *= fnvPrime64
	}
	return h
}

// ConflictFields are the nine fields that make up a conflict signature, in
// the fixed order the hash is computed over.
type ConflictFields struct {
	Workspace     string
	FromBranch    string
	IntoBranch    string
	Doc           string
	Kind          string // "node" | "edge"
	Key           string // node id, or "from|rel|to"
	BaseCutoffSeq int64  // -1 means "no cutoff"
	TheirsSeq     int64
	OursSeq       int64
}

// encode serializes the fields with 0xff separators and little-endian
// integers, so two implementations given identical inputs produce
// identical bytes (and therefore identical hashes).
func (f ConflictFields) encode() []byte {
	buf := make([]byte, 0, 128)
	appendStr := func(s string) {
		buf = append(buf, []byte(s)...)
		buf = append(buf, 0xff)
	}
	appendInt := func(v int64) {
		u := uint64(v)
		for i := 0; i < 8; i++ {
			buf = append(buf, byte(u>>(8*uint(i))))
		}
		buf = append(buf, 0xff)
	}
	appendStr(f.Workspace)
	appendStr(f.FromBranch)
	appendStr(f.IntoBranch)
	appendStr(f.Doc)
	appendStr(f.Kind)
	appendStr(f.Key)
	appendInt(f.BaseCutoffSeq)
	appendInt(f.TheirsSeq)
	appendInt(f.OursSeq)
	return buf
}

// ConflictID computes the deterministic "CONFLICT-{h1:016x}{h2:016x}"
// identifier for a merge-back conflict signature.
func ConflictID(f ConflictFields) string {
	data := f.encode()
	h1 := fnv1a(fnvOffset64, data)
	h2 := fnv1a(fnvOffset64^conflictSeedXOR, data)
	// Finalize each round with its own 1-byte tag, further separating
	// the two rounds; mirrors the ground-truth hasher's
	// post-loop `hash ^= offset; hash *= prime` step for offset=0/1.
	h1 = fnv1a(h1, []byte{0x00})
	h2 = fnv1a(h2, []byte{0x01})
	return fmt.Sprintf("CONFLICT-%016x%016x", h1, h2)
}
