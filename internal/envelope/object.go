package envelope

import (
	"fmt"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/scriberr"
)

// ObjectType tags an ancillary blob stored outside the commit index.
type ObjectType int

const (
	ObjBlob ObjectType = iota
	ObjTree
	ObjCommit
)

// String returns the storage form.
func (t ObjectType) String() string {
	switch t {
	case ObjBlob:
		return "blob"
	case ObjTree:
		return "tree"
	case ObjCommit:
		return "commit"
	default:
		return "unknown"
	}
}

// ParseObjectType decodes the storage form.
func ParseObjectType(s string) (ObjectType, error) {
	switch s {
	case "blob":
		return ObjBlob, nil
	case "tree":
		return ObjTree, nil
	case "commit":
		return ObjCommit, nil
	default:
		return 0, scriberr.New(scriberr.KindInvalidArg, "unknown object type %q", s)
	}
}

// Object is a typed byte blob addressed by the digest of a Git-style
// header ("<type> <size>\0") concatenated with its content.
type Object struct {
	Type    ObjectType
	Content []byte
}

// Hash computes the object's content address.
func (o *Object) Hash() digest.Digest {
	header := fmt.Sprintf("%s %d\x00", o.Type, len(o.Content))
	buf := make([]byte, 0, len(header)+len(o.Content))
	buf = append(buf, header...)
	buf = append(buf, o.Content...)
	return digest.HashBytes(buf)
}

// Size returns the content length in bytes.
func (o *Object) Size() int {
	return len(o.Content)
}
