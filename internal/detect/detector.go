// Package detect is the boundary to the external unsafe-content detector.
// Whatever shape a detector answers with is normalized into a Result here, so
// callers only ever see one tagged variant.
package detect

import (
	"context"
	"errors"
)

// ErrStatus is wrapped by errors for non-2xx detector responses.
var ErrStatus = errors.New("detect: unexpected status")

// Image is one encoded picture handed to a detector.
type Image struct {
	Name string
	Data []byte
}

// Detector classifies images. ClassifyBatch returns a KindPerVideoFrame result
// with one entry per input image, in input order.
type Detector interface {
	Classify(ctx context.Context, img Image) (Result, error)
	ClassifyBatch(ctx context.Context, imgs []Image) (Result, error)
}
