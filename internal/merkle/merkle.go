// Package merkle builds balanced binary hash trees over per-row
// change digests and produces inclusion proofs against their roots.
//
// Leaves are order-preserving. Raw data is hashed under the 0x00 leaf
// prefix; pre-computed digests are stored as leaf hashes verbatim.
// Internal nodes hash under the 0x01 prefix. An odd node at any level
// is paired with itself, never promoted.
package merkle

import (
	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/scriberr"
)

type leaf struct {
	field string
	hash  digest.Digest
}

// Tree accumulates leaves and, once built, exposes the root and
// inclusion proofs. Adding leaves after Build is an error.
type Tree struct {
	leaves []leaf

	// levels[0] is the leaf hashes; each subsequent level halves
	// (rounding up) until a single root remains. Populated by Build.
	levels [][]digest.Digest
	built  bool
}

// New creates an empty tree.
func New() *Tree {
	return &Tree{}
}

// AddData appends a leaf whose hash is HashLeaf(data). The field name
// is retained for diagnostics only; it does not enter the hash.
func (t *Tree) AddData(field string, data []byte) error {
	if t.built {
		return scriberr.New(scriberr.KindInvalidArg, "cannot add leaves after build")
	}
	t.leaves = append(t.leaves, leaf{field: field, hash: digest.HashLeaf(data)})
	return nil
}

// AddDigest appends a leaf whose hash is the given digest, stored
// without re-prefixing. This is the path envelope finalization uses
// for per-change row digests.
func (t *Tree) AddDigest(field string, d digest.Digest) error {
	if t.built {
		return scriberr.New(scriberr.KindInvalidArg, "cannot add leaves after build")
	}
	t.leaves = append(t.leaves, leaf{field: field, hash: d})
	return nil
}

// LeafCount returns the number of leaves added.
func (t *Tree) LeafCount() int {
	return len(t.leaves)
}

// LeafHash returns the hash of leaf i.
func (t *Tree) LeafHash(i int) (digest.Digest, error) {
	if i < 0 || i >= len(t.leaves) {
		return digest.Zero, scriberr.New(scriberr.KindInvalidArg, "leaf index %d out of range [0,%d)", i, len(t.leaves))
	}
	return t.leaves[i].hash, nil
}

// Build computes all levels bottom-up. Building an already-built tree
// is a no-op. An empty tree builds to the zero root; a single leaf is
// its own root.
func (t *Tree) Build() error {
	if t.built {
		return nil
	}

	level := make([]digest.Digest, len(t.leaves))
	for i, l := range t.leaves {
		level[i] = l.hash
	}
	t.levels = [][]digest.Digest{level}

	for len(level) > 1 {
		next := make([]digest.Digest, (len(level)+1)/2)
		for i := range next {
			left := level[i*2]
			right := left
			if i*2+1 < len(level) {
				right = level[i*2+1]
			}
			next[i] = digest.HashInternal(left, right)
		}
		t.levels = append(t.levels, next)
		level = next
	}

	t.built = true
	return nil
}

// Root returns the root digest. Zero for an empty or unbuilt tree.
func (t *Tree) Root() digest.Digest {
	if !t.built || len(t.leaves) == 0 {
		return digest.Zero
	}
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof is an inclusion proof: one sibling digest per level, with a
// position bit per level (0 = sibling on the right, 1 = sibling on
// the left).
type Proof struct {
	Hashes    []digest.Digest
	Positions []int
}

// CreateProof produces the inclusion proof for leaf index i. The tree
// must be built.
func (t *Tree) CreateProof(i int) (*Proof, error) {
	if !t.built {
		return nil, scriberr.New(scriberr.KindInvalidArg, "tree is not built")
	}
	if i < 0 || i >= len(t.leaves) {
		return nil, scriberr.New(scriberr.KindInvalidArg, "leaf index %d out of range [0,%d)", i, len(t.leaves))
	}

	proof := &Proof{}
	idx := i
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		position := idx & 1 // odd index: sibling is on the left
		if sibling >= len(level) {
			// Odd node at this level pairs with itself.
			sibling = idx
			position = 0
		}
		proof.Hashes = append(proof.Hashes, level[sibling])
		proof.Positions = append(proof.Positions, position)
		idx /= 2
	}
	return proof, nil
}

// VerifyProof folds the proof from leafHash upward and reports whether
// the result equals root. An empty proof verifies iff leafHash == root.
func VerifyProof(proof *Proof, leafHash, root digest.Digest) bool {
	if proof == nil || len(proof.Hashes) != len(proof.Positions) {
		return false
	}

	current := leafHash
	for i, sibling := range proof.Hashes {
		if proof.Positions[i] == 0 {
			current = digest.HashInternal(current, sibling)
		} else {
			current = digest.HashInternal(sibling, current)
		}
	}
	return current.Equal(root)
}
