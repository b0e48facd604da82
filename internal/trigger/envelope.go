package trigger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/emulators-codelab/pkg/docstore"
)

// Message attributes set on published change envelopes.
const (
	AttrEventID = "eventId"
	AttrPath    = "path"
	AttrKind    = "kind"
)

// Snapshot is one side of a change on the wire. A present snapshot with no
// data means the document existed but its contents were not captured.
type Snapshot struct {
	Data       map[string]any `json:"data,omitempty"`
	UpdateTime time.Time      `json:"updateTime,omitzero"`
}

// Envelope is the JSON body of a change message.
type Envelope struct {
	EventID string    `json:"eventId"`
	Path    string    `json:"path"`
	Before  *Snapshot `json:"before,omitempty"`
	After   *Snapshot `json:"after,omitempty"`
	Time    time.Time `json:"time"`
}

func NewEnvelope(eventID string, change docstore.Change) Envelope {
	return Envelope{
		EventID: eventID,
		Path:    change.Path,
		Before:  toSnapshot(change.Before),
		After:   toSnapshot(change.After),
		Time:    change.Time.UTC(),
	}
}

func toSnapshot(doc *docstore.Document) *Snapshot {
	if doc == nil || !doc.Exists {
		return nil
	}
	return &Snapshot{Data: doc.Data, UpdateTime: doc.UpdateTime}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Attributes returns the message attributes for e.
func (e Envelope) Attributes() map[string]string {
	return map[string]string{
		AttrEventID: e.EventID,
		AttrPath:    e.Path,
		AttrKind:    e.Change().Kind().String(),
	}
}

// DecodeEnvelope parses a message body. Numbers are normalized the same way
// the stores normalize them.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if len(bytes.TrimSpace(data)) == 0 {
		return env, errors.New("envelope empty")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if err := docstore.ValidateDocument(env.Path); err != nil {
		return env, err
	}
	if env.Before == nil && env.After == nil {
		return env, fmt.Errorf("envelope for %s has neither side", env.Path)
	}
	for _, snap := range []*Snapshot{env.Before, env.After} {
		if snap == nil || snap.Data == nil {
			continue
		}
		normalized, err := docstore.Normalize(snap.Data)
		if err != nil {
			return env, err
		}
		snap.Data = normalized
	}
	return env, nil
}

func (e Envelope) Change() docstore.Change {
	return docstore.Change{
		Path:   e.Path,
		Before: fromSnapshot(e.Path, e.Before),
		After:  fromSnapshot(e.Path, e.After),
		Time:   e.Time,
	}
}

func fromSnapshot(path string, snap *Snapshot) *docstore.Document {
	if snap == nil {
		return nil
	}
	return &docstore.Document{
		Path:       path,
		ID:         docstore.ID(path),
		Data:       snap.Data,
		Exists:     true,
		UpdateTime: snap.UpdateTime,
	}
}
