package moderation

import (
	"embed"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/veil-waf/veil-moderator/internal/detect"
)

//go:embed labels/unsafe_labels.yaml
var labelData embed.FS

// Thresholds maps an unsafe label to the minimum score at which it counts as
// a violation. It is built once at startup and never mutated.
type Thresholds map[string]float64

// DefaultThresholds returns the built-in label table.
func DefaultThresholds() (Thresholds, error) {
	data, err := labelData.ReadFile("labels/unsafe_labels.yaml")
	if err != nil {
		return nil, fmt.Errorf("moderation: read default labels: %w", err)
	}
	return ParseThresholds(data)
}

// LoadThresholds reads a YAML label table from path.
func LoadThresholds(path string) (Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("moderation: read labels: %w", err)
	}
	return ParseThresholds(data)
}

// ParseThresholds decodes a YAML mapping of label to score.
func ParseThresholds(data []byte) (Thresholds, error) {
	var t Thresholds
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("moderation: parse labels: %w", err)
	}
	if len(t) == 0 {
		return nil, fmt.Errorf("moderation: label table is empty")
	}
	for label, score := range t {
		if math.IsNaN(score) {
			return nil, fmt.Errorf("moderation: label %q has no numeric threshold", label)
		}
	}
	return t, nil
}

// IsUnsafe reports whether any record meets or exceeds its label's threshold.
func (t Thresholds) IsUnsafe(records []detect.Record) bool {
	for _, r := range records {
		if threshold, ok := t[r.Class]; ok && r.Score >= threshold {
			return true
		}
	}
	return false
}

// Violations returns every record that meets its label's threshold.
func (t Thresholds) Violations(records []detect.Record) []detect.Record {
	var out []detect.Record
	for _, r := range records {
		if threshold, ok := t[r.Class]; ok && r.Score >= threshold {
			out = append(out, r)
		}
	}
	return out
}

// Labels returns the table's labels in sorted order.
func (t Thresholds) Labels() []string {
	out := make([]string, 0, len(t))
	for label := range t {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
