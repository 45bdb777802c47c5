package moderation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Job types understood by the processor.
const (
	TypeImage = "image"
	TypeVideo = "video"
)

// Job is one queued moderation request. The raw JSON object is kept so the
// backend gets back exactly what it enqueued.
type Job struct {
	ID        string
	Type      string
	MediaURL  string
	MessageID string

	raw json.RawMessage
}

// DecodeJob parses a queue payload. The payload must be a JSON object.
func DecodeJob(payload []byte) (*Job, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("moderation: decode job: %w", err)
	}
	if fields == nil {
		return nil, errors.New("moderation: decode job: payload is null")
	}

	j := &Job{
		ID:        scalar(fields["id"]),
		Type:      scalar(fields["type"]),
		MediaURL:  scalar(fields["media_url"]),
		MessageID: scalar(fields["message_id"]),
		raw:       append(json.RawMessage(nil), bytes.TrimSpace(payload)...),
	}
	if j.MediaURL == "" {
		j.MediaURL = scalar(fields["url_media"])
	}
	return j, nil
}

// NewJob builds a job and its JSON form from typed fields. extra is merged
// into the object as passthrough fields.
func NewJob(id, typ, mediaURL, messageID string, extra map[string]any) (*Job, error) {
	obj := make(map[string]any, len(extra)+4)
	for k, v := range extra {
		obj[k] = v
	}
	obj["id"] = id
	obj["type"] = typ
	obj["media_url"] = mediaURL
	obj["message_id"] = messageID

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("moderation: encode job: %w", err)
	}
	return &Job{ID: id, Type: typ, MediaURL: mediaURL, MessageID: messageID, raw: raw}, nil
}

// Raw returns the job's original JSON object.
func (j *Job) Raw() json.RawMessage { return j.raw }

// MarshalJSON returns the original object unchanged.
func (j *Job) MarshalJSON() ([]byte, error) {
	if len(j.raw) == 0 {
		return []byte("{}"), nil
	}
	return j.raw, nil
}

// scalar renders a JSON string or number as text; anything else is "".
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
