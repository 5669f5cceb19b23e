package envelope

import (
	"bytes"
	"encoding/json"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/WildMix/Scribe/internal/scriberr"
)

// CanonicalJSON is the serialization commit hashing is defined over.
// It is the ONLY encoding that may feed digest.HashBytes for a commit
// id; the interactive JSON export goes through MarshalJSON instead.
//
// The form is fixed: compact output, keys in the order
// commit_id, parent_id, tree_hash, author{id,role,email},
// process{name,version,params,source}, timestamp, message, changes.
// Digests are lowercase hex and omitted when zero; author and process
// objects are always present with their set fields; message is
// omitted when empty; changes are omitted when there are none and
// each writes table, operation, pk, before_hash, after_hash.
func (e *Envelope) CanonicalJSON() ([]byte, error) {
	w := newObjWriter()

	if !e.CommitID.IsZero() {
		w.stringField("commit_id", e.CommitID.Hex())
	}
	if !e.ParentID.IsZero() {
		w.stringField("parent_id", e.ParentID.Hex())
	}
	if !e.TreeHash.IsZero() {
		w.stringField("tree_hash", e.TreeHash.Hex())
	}

	author := newObjWriter()
	if e.Author.ID != "" {
		author.stringField("id", e.Author.ID)
	}
	if e.Author.Role != "" {
		author.stringField("role", e.Author.Role)
	}
	if e.Author.Email != "" {
		author.stringField("email", e.Author.Email)
	}
	w.objField("author", author)

	process := newObjWriter()
	if e.Process.Name != "" {
		process.stringField("name", e.Process.Name)
	}
	if e.Process.Version != "" {
		process.stringField("version", e.Process.Version)
	}
	if e.Process.Params != "" {
		process.stringField("params", e.Process.Params)
	}
	if e.Process.Source != "" {
		process.stringField("source", e.Process.Source)
	}
	w.objField("process", process)

	w.intField("timestamp", e.Timestamp)

	if e.Message != "" {
		w.stringField("message", e.Message)
	}

	if len(e.Changes) > 0 {
		var arr bytes.Buffer
		arr.WriteByte('[')
		for i, c := range e.Changes {
			if i > 0 {
				arr.WriteByte(',')
			}
			cw := newObjWriter()
			cw.stringField("table", c.Table)
			cw.stringField("operation", c.Op.String())
			cw.stringField("pk", c.PrimaryKey)
			if !c.Before.IsZero() {
				cw.stringField("before_hash", c.Before.Hex())
			}
			if !c.After.IsZero() {
				cw.stringField("after_hash", c.After.Hex())
			}
			arr.Write(cw.finish())
			if cw.err != nil && w.err == nil {
				w.err = cw.err
			}
		}
		arr.WriteByte(']')
		w.rawField("changes", arr.Bytes())
	}

	if w.err != nil {
		return nil, w.err
	}
	return w.finish(), nil
}

// objWriter emits a single JSON object with keys in call order.
type objWriter struct {
	buf bytes.Buffer
	n   int
	err error
}

func newObjWriter() *objWriter {
	w := &objWriter{}
	w.buf.WriteByte('{')
	return w
}

func (w *objWriter) key(name string) {
	if w.n > 0 {
		w.buf.WriteByte(',')
	}
	w.n++
	w.writeString(name)
	w.buf.WriteByte(':')
}

func (w *objWriter) stringField(name, value string) {
	w.key(name)
	w.writeString(value)
}

func (w *objWriter) intField(name string, value int64) {
	w.key(name)
	w.buf.WriteString(strconv.FormatInt(value, 10))
}

func (w *objWriter) rawField(name string, raw []byte) {
	w.key(name)
	w.buf.Write(raw)
}

func (w *objWriter) objField(name string, sub *objWriter) {
	w.rawField(name, sub.finish())
	if sub.err != nil && w.err == nil {
		w.err = sub.err
	}
}

func (w *objWriter) finish() []byte {
	w.buf.WriteByte('}')
	return w.buf.Bytes()
}

// writeString emits a JSON string with the canonical rules: NFC
// normalization at the serialization boundary and no HTML escaping
// (<, >, & pass through unescaped).
func (w *objWriter) writeString(s string) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		if w.err == nil {
			w.err = scriberr.Wrap(scriberr.KindNoMem, err, "encode canonical string")
		}
		return
	}

	// json.Encoder appends a trailing newline.
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	w.buf.Write(out)
}
