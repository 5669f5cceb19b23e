package merkle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WildMix/Scribe/internal/digest"
)

func TestEmptyTreeRootIsZero(t *testing.T) {
	tree := New()
	require.NoError(t, tree.Build())
	assert.True(t, tree.Root().IsZero())
}

func TestSingleLeafIsRoot(t *testing.T) {
	tree := New()
	require.NoError(t, tree.AddData("f", []byte("only")))
	require.NoError(t, tree.Build())

	assert.Equal(t, digest.HashLeaf([]byte("only")), tree.Root())
}

func TestSingleDigestLeafStoredVerbatim(t *testing.T) {
	// Pre-computed digests enter the tree without the leaf prefix.
	d := digest.HashBytes([]byte("row"))
	tree := New()
	require.NoError(t, tree.AddDigest("after", d))
	require.NoError(t, tree.Build())

	assert.Equal(t, d, tree.Root())
	assert.NotEqual(t, digest.HashLeaf(d[:]), tree.Root())
}

func TestFourLeafStructure(t *testing.T) {
	a := digest.HashBytes([]byte("a"))
	b := digest.HashBytes([]byte("b"))
	c := digest.HashBytes([]byte("c"))
	d := digest.HashBytes([]byte("d"))

	tree := New()
	for _, x := range []digest.Digest{a, b, c, d} {
		require.NoError(t, tree.AddDigest("", x))
	}
	require.NoError(t, tree.Build())

	want := digest.HashInternal(digest.HashInternal(a, b), digest.HashInternal(c, d))
	assert.Equal(t, want, tree.Root())
}

func TestOddLeafPairsWithItself(t *testing.T) {
	a := digest.HashBytes([]byte("a"))
	b := digest.HashBytes([]byte("b"))
	c := digest.HashBytes([]byte("c"))

	tree := New()
	for _, x := range []digest.Digest{a, b, c} {
		require.NoError(t, tree.AddDigest("", x))
	}
	require.NoError(t, tree.Build())

	want := digest.HashInternal(digest.HashInternal(a, b), digest.HashInternal(c, c))
	assert.Equal(t, want, tree.Root())
}

func TestAddAfterBuildFails(t *testing.T) {
	tree := New()
	require.NoError(t, tree.AddData("f", []byte("x")))
	require.NoError(t, tree.Build())

	assert.Error(t, tree.AddData("f", []byte("y")))
	assert.Error(t, tree.AddDigest("f", digest.HashBytes([]byte("y"))))
}

func TestBuildIsIdempotent(t *testing.T) {
	tree := New()
	require.NoError(t, tree.AddData("f", []byte("x")))
	require.NoError(t, tree.Build())
	root := tree.Root()

	require.NoError(t, tree.Build())
	assert.Equal(t, root, tree.Root())
}

func TestLeafOrderChangesRoot(t *testing.T) {
	a := digest.HashBytes([]byte("a"))
	b := digest.HashBytes([]byte("b"))

	t1 := New()
	require.NoError(t, t1.AddDigest("", a))
	require.NoError(t, t1.AddDigest("", b))
	require.NoError(t, t1.Build())

	t2 := New()
	require.NoError(t, t2.AddDigest("", b))
	require.NoError(t, t2.AddDigest("", a))
	require.NoError(t, t2.Build())

	assert.NotEqual(t, t1.Root(), t2.Root())
}

func TestProofRoundTrip(t *testing.T) {
	// Every leaf of every tree size up to 8 must prove against the root.
	for n := 1; n <= 8; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			tree := New()
			for i := 0; i < n; i++ {
				require.NoError(t, tree.AddData("f", []byte(fmt.Sprintf("leaf-%d", i))))
			}
			require.NoError(t, tree.Build())
			root := tree.Root()

			for i := 0; i < n; i++ {
				proof, err := tree.CreateProof(i)
				require.NoError(t, err)

				lh, err := tree.LeafHash(i)
				require.NoError(t, err)

				assert.True(t, VerifyProof(proof, lh, root), "leaf %d of %d must verify", i, n)
			}
		})
	}
}

func TestProofTamperingFalsifies(t *testing.T) {
	tree := New()
	for i := 0; i < 5; i++ {
		require.NoError(t, tree.AddData("f", []byte(fmt.Sprintf("leaf-%d", i))))
	}
	require.NoError(t, tree.Build())
	root := tree.Root()

	proof, err := tree.CreateProof(2)
	require.NoError(t, err)
	lh, err := tree.LeafHash(2)
	require.NoError(t, err)
	require.True(t, VerifyProof(proof, lh, root))

	// Tamper with a sibling hash.
	proof.Hashes[0][0] ^= 0xff
	assert.False(t, VerifyProof(proof, lh, root))
	proof.Hashes[0][0] ^= 0xff

	// Tamper with a position bit.
	proof.Positions[0] ^= 1
	assert.False(t, VerifyProof(proof, lh, root))
	proof.Positions[0] ^= 1

	// Wrong leaf.
	other, err := tree.LeafHash(3)
	require.NoError(t, err)
	assert.False(t, VerifyProof(proof, other, root))

	// Wrong root.
	badRoot := digest.HashBytes([]byte("nope"))
	assert.False(t, VerifyProof(proof, lh, badRoot))
}

func TestProofBeforeBuildFails(t *testing.T) {
	tree := New()
	require.NoError(t, tree.AddData("f", []byte("x")))

	_, err := tree.CreateProof(0)
	assert.Error(t, err)
}

func TestMismatchedProofShapes(t *testing.T) {
	assert.False(t, VerifyProof(nil, digest.Zero, digest.Zero))
	assert.False(t, VerifyProof(&Proof{Hashes: make([]digest.Digest, 1)}, digest.Zero, digest.Zero))
}
