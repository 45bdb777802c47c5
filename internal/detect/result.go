package detect

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Record is one label/score detection returned by a detector.
type Record struct {
	Class string    `json:"class"`
	Score float64   `json:"score"`
	Box   []float64 `json:"box,omitempty"`
}

// Kind tags the shape a detector answered with.
type Kind int

const (
	KindSingle        Kind = iota + 1 // one record
	KindPerImage                      // one record per detection in a single image
	KindPerVideoFrame                 // one record list per sampled frame
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindPerImage:
		return "per_image"
	case KindPerVideoFrame:
		return "per_video_frame"
	default:
		return "unknown"
	}
}

// Result is the normalized classification output. Exactly one of the shape
// fields is populated, according to Kind.
type Result struct {
	Kind   Kind
	Single Record
	Image  []Record
	Frames [][]Record

	raw json.RawMessage
}

// SingleResult wraps one record.
func SingleResult(r Record) Result { return Result{Kind: KindSingle, Single: r} }

// PerImageResult wraps the detections of one image.
func PerImageResult(recs []Record) Result { return Result{Kind: KindPerImage, Image: recs} }

// PerVideoFrameResult wraps per-frame detections, one entry per frame.
func PerVideoFrameResult(frames [][]Record) Result {
	return Result{Kind: KindPerVideoFrame, Frames: frames}
}

// Records flattens the result into one ordered slice.
func (r Result) Records() []Record {
	switch r.Kind {
	case KindSingle:
		return []Record{r.Single}
	case KindPerImage:
		return r.Image
	case KindPerVideoFrame:
		var out []Record
		for _, f := range r.Frames {
			out = append(out, f...)
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON emits the detector's raw response when the result was decoded
// from one, so reports carry exactly what the detector said.
func (r Result) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 {
		return r.raw, nil
	}
	switch r.Kind {
	case KindSingle:
		return json.Marshal(r.Single)
	case KindPerImage:
		if r.Image == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Image)
	case KindPerVideoFrame:
		if r.Frames == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(r.Frames)
	default:
		return []byte("null"), nil
	}
}

var errShape = errors.New("detect: unrecognised result shape")

// DecodeResult resolves a detector response into a Result. Accepted shapes are
// an object, an array of objects and an array of arrays of objects. Arrays that
// mix objects and arrays are read as per-frame results with each bare object
// standing for a one-record frame.
func DecodeResult(data []byte) (Result, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Result{}, errShape
	}

	switch data[0] {
	case '{':
		rec, err := decodeRecord(data)
		if err != nil {
			return Result{}, err
		}
		res := SingleResult(rec)
		res.raw = append(json.RawMessage(nil), data...)
		return res, nil
	case '[':
	default:
		return Result{}, errShape
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return Result{}, fmt.Errorf("detect: decode result: %w", err)
	}

	nested := false
	for _, it := range items {
		if t := bytes.TrimSpace(it); len(t) > 0 && t[0] == '[' {
			nested = true
			break
		}
	}

	var res Result
	if nested {
		frames := make([][]Record, 0, len(items))
		for _, it := range items {
			it = bytes.TrimSpace(it)
			if len(it) > 0 && it[0] == '{' {
				rec, err := decodeRecord(it)
				if err != nil {
					return Result{}, err
				}
				frames = append(frames, []Record{rec})
				continue
			}
			recs, err := decodeRecords(it)
			if err != nil {
				return Result{}, err
			}
			frames = append(frames, recs)
		}
		res = PerVideoFrameResult(frames)
	} else {
		recs, err := decodeRecords(data)
		if err != nil {
			return Result{}, err
		}
		res = PerImageResult(recs)
	}
	res.raw = append(json.RawMessage(nil), data...)
	return res, nil
}

// DecodeBatch decodes a batch response and tags it per frame. A flat list of
// per-image record lists is the common case; a flat list of objects is read
// as one record per frame.
func DecodeBatch(data []byte) (Result, error) {
	res, err := DecodeResult(data)
	if err != nil {
		return Result{}, err
	}
	switch res.Kind {
	case KindPerVideoFrame:
		return res, nil
	case KindPerImage:
		frames := make([][]Record, 0, len(res.Image))
		for _, rec := range res.Image {
			frames = append(frames, []Record{rec})
		}
		out := PerVideoFrameResult(frames)
		out.raw = res.raw
		return out, nil
	default:
		out := PerVideoFrameResult([][]Record{{res.Single}})
		out.raw = res.raw
		return out, nil
	}
}

// wireRecord accepts "label" as an alias of "class"; score defaults to 0. A
// record naming neither is not a detection.
type wireRecord struct {
	Class string    `json:"class"`
	Label string    `json:"label"`
	Score *float64  `json:"score"`
	Box   []float64 `json:"box"`
}

func (w wireRecord) record() (Record, error) {
	rec := Record{Class: w.Class, Box: w.Box}
	if rec.Class == "" {
		rec.Class = w.Label
	}
	if rec.Class == "" {
		return Record{}, fmt.Errorf("%w: record has no class", errShape)
	}
	if w.Score != nil {
		rec.Score = *w.Score
	}
	return rec, nil
}

func decodeRecord(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("detect: decode record: %w", err)
	}
	return w.record()
}

func decodeRecords(data []byte) ([]Record, error) {
	var ws []wireRecord
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("detect: decode records: %w", err)
	}
	out := make([]Record, 0, len(ws))
	for _, w := range ws {
		rec, err := w.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
