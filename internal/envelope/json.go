package envelope

import (
	"encoding/json"

	"github.com/WildMix/Scribe/internal/digest"
	"github.com/WildMix/Scribe/internal/scriberr"
)

// The wire types mirror the canonical key names for interactive JSON
// export and import (log --json and friends). They are not used for
// hashing; CanonicalJSON owns that encoding.

type wireAuthor struct {
	ID    string `json:"id,omitempty"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

type wireProcess struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Params  string `json:"params,omitempty"`
	Source  string `json:"source,omitempty"`
}

type wireChange struct {
	Table      string `json:"table"`
	Operation  string `json:"operation"`
	PrimaryKey string `json:"pk"`
	BeforeHash string `json:"before_hash,omitempty"`
	AfterHash  string `json:"after_hash,omitempty"`
}

type wireEnvelope struct {
	CommitID  string       `json:"commit_id,omitempty"`
	ParentID  string       `json:"parent_id,omitempty"`
	TreeHash  string       `json:"tree_hash,omitempty"`
	Author    wireAuthor   `json:"author"`
	Process   wireProcess  `json:"process"`
	Timestamp int64        `json:"timestamp"`
	Message   string       `json:"message,omitempty"`
	Changes   []wireChange `json:"changes,omitempty"`
}

func hexOrEmpty(d digest.Digest) string {
	if d.IsZero() {
		return ""
	}
	return d.Hex()
}

func digestOrZero(s string) (digest.Digest, error) {
	if s == "" {
		return digest.Zero, nil
	}
	return digest.FromHex(s)
}

// MarshalJSON emits the wire form of the envelope.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		CommitID:  hexOrEmpty(e.CommitID),
		ParentID:  hexOrEmpty(e.ParentID),
		TreeHash:  hexOrEmpty(e.TreeHash),
		Author:    wireAuthor{ID: e.Author.ID, Role: e.Author.Role, Email: e.Author.Email},
		Process:   wireProcess{Name: e.Process.Name, Version: e.Process.Version, Params: e.Process.Params, Source: e.Process.Source},
		Timestamp: e.Timestamp,
		Message:   e.Message,
	}
	for _, c := range e.Changes {
		w.Changes = append(w.Changes, wireChange{
			Table:      c.Table,
			Operation:  c.Op.String(),
			PrimaryKey: c.PrimaryKey,
			BeforeHash: hexOrEmpty(c.Before),
			AfterHash:  hexOrEmpty(c.After),
		})
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the wire form back into an envelope.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return scriberr.Wrap(scriberr.KindJSONParse, err, "parse envelope JSON")
	}

	var err error
	if e.CommitID, err = digestOrZero(w.CommitID); err != nil {
		return err
	}
	if e.ParentID, err = digestOrZero(w.ParentID); err != nil {
		return err
	}
	if e.TreeHash, err = digestOrZero(w.TreeHash); err != nil {
		return err
	}

	e.Author = Author{ID: w.Author.ID, Role: w.Author.Role, Email: w.Author.Email}
	e.Process = Process{Name: w.Process.Name, Version: w.Process.Version, Params: w.Process.Params, Source: w.Process.Source}
	e.Timestamp = w.Timestamp
	e.Message = w.Message

	e.Changes = nil
	for _, c := range w.Changes {
		op, err := ParseOperation(c.Operation)
		if err != nil {
			return err
		}
		before, err := digestOrZero(c.BeforeHash)
		if err != nil {
			return err
		}
		after, err := digestOrZero(c.AfterHash)
		if err != nil {
			return err
		}
		e.Changes = append(e.Changes, Change{
			Table:      c.Table,
			Op:         op,
			PrimaryKey: c.PrimaryKey,
			Before:     before,
			After:      after,
		})
	}
	return nil
}

// FromJSON parses an envelope from its wire form.
func FromJSON(data []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := json.Unmarshal(data, e); err != nil {
		// Syntax errors are caught before UnmarshalJSON runs, so they
		// arrive without a Kind.
		if scriberr.KindOf(err) == "" {
			return nil, scriberr.Wrap(scriberr.KindJSONParse, err, "parse envelope JSON")
		}
		return nil, err
	}
	return e, nil
}
