package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WildMix/Scribe/internal/digest"
)

func TestObjectHashUsesGitStyleHeader(t *testing.T) {
	obj := &Object{Type: ObjBlob, Content: []byte("hello")}

	want := digest.HashBytes([]byte("blob 5\x00hello"))
	assert.Equal(t, want, obj.Hash())
	assert.Equal(t, 5, obj.Size())
}

func TestObjectHashDependsOnType(t *testing.T) {
	content := []byte("same bytes")
	blob := &Object{Type: ObjBlob, Content: content}
	tree := &Object{Type: ObjTree, Content: content}

	assert.NotEqual(t, blob.Hash(), tree.Hash())
}

func TestObjectHashEmptyContent(t *testing.T) {
	obj := &Object{Type: ObjBlob}
	assert.Equal(t, digest.HashBytes([]byte("blob 0\x00")), obj.Hash())
}

func TestParseObjectType(t *testing.T) {
	for _, typ := range []ObjectType{ObjBlob, ObjTree, ObjCommit} {
		parsed, err := ParseObjectType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}

	_, err := ParseObjectType("branch")
	assert.Error(t, err)
}
