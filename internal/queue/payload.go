package queue

import (
	"encoding/json"
	"fmt"
)

// Payload is the captured body of a deferred mutation. The concrete type
// follows the item kind: FormPayload for form, PhotoPayload for photo.
// Replay code switches exhaustively on Kind.
type Payload interface {
	PayloadKind() Kind
}

// FormPayload carries a captured JSON request body.
type FormPayload struct {
	ContentType string          `json:"content_type,omitempty"`
	Body        json.RawMessage `json:"body"`
}

func (FormPayload) PayloadKind() Kind { return KindForm }

// PhotoPayload carries binary photo content plus capture metadata. Data is
// persisted separately from the item record (blob table or sidecar file);
// the JSON encoding covers metadata only.
type PhotoPayload struct {
	ContentType  string `json:"content_type"`
	Caption      string `json:"caption,omitempty"`
	Location     string `json:"location,omitempty"`
	InspectionID string `json:"inspection_id,omitempty"`
	Data         []byte `json:"-"`
}

func (PhotoPayload) PayloadKind() Kind { return KindPhoto }

func marshalPayload(item *Item) (string, []byte, error) {
	switch p := item.Payload.(type) {
	case FormPayload:
		data, err := json.Marshal(p)
		if err != nil {
			return "", nil, fmt.Errorf("marshal form payload: %w", err)
		}
		return string(data), nil, nil
	case PhotoPayload:
		data, err := json.Marshal(p)
		if err != nil {
			return "", nil, fmt.Errorf("marshal photo payload: %w", err)
		}
		return string(data), p.Data, nil
	case nil:
		return "", nil, fmt.Errorf("item %s has no payload", item.ID)
	default:
		return "", nil, fmt.Errorf("item %s: unknown payload type %T", item.ID, item.Payload)
	}
}

func unmarshalPayload(kind Kind, encoded string, blob []byte) (Payload, error) {
	switch kind {
	case KindForm:
		var p FormPayload
		if err := json.Unmarshal([]byte(encoded), &p); err != nil {
			return nil, fmt.Errorf("unmarshal form payload: %w", err)
		}
		return p, nil
	case KindPhoto:
		var p PhotoPayload
		if err := json.Unmarshal([]byte(encoded), &p); err != nil {
			return nil, fmt.Errorf("unmarshal photo payload: %w", err)
		}
		p.Data = blob
		return p, nil
	default:
		return nil, fmt.Errorf("unknown item kind %q", kind)
	}
}
