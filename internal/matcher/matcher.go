// Package matcher turns a raw detection tensor into labelled detections and checklist hits.
package matcher

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/dj-oyu/checklist-camera/internal/checklist"
	"github.com/dj-oyu/checklist-camera/internal/classtable"
	"github.com/dj-oyu/checklist-camera/pkg/types"
)

// RecordStride is the number of scalars per detection record:
// batch index, x0, y0, x1, y1, class id, score.
const RecordStride = 7

// UnknownLabel is used for class ids outside the class table.
const UnknownLabel = "unknown"

// Record is one raw detection row.
type Record struct {
	Batch   int
	X0, Y0  float32
	X1, Y1  float32
	ClassID int
	Score   float32
}

// Parse splits t into records. The record count is t's leading dimension.
func Parse(t *types.Tensor) ([]Record, error) {
	if t == nil || len(t.Shape) == 0 {
		return nil, fmt.Errorf("output tensor has no shape")
	}
	n := int(t.Shape[0])
	if n < 0 {
		return nil, fmt.Errorf("output tensor has negative leading dimension %d", n)
	}
	if n > len(t.Data)/RecordStride {
		return nil, fmt.Errorf("output tensor holds %d scalars, too few for %d records of %d",
			len(t.Data), n, RecordStride)
	}

	records := make([]Record, n)
	for i := range records {
		row := t.Data[i*RecordStride : (i+1)*RecordStride]
		records[i] = Record{
			Batch:   int(row[0]),
			X0:      row[1],
			Y0:      row[2],
			X1:      row[3],
			Y1:      row[4],
			ClassID: int(row[5]),
			Score:   row[6],
		}
	}
	return records, nil
}

// Notification is a one-shot user alert for a checklist hit.
type Notification struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// NewNotification formats the alert for label.
func NewNotification(label string) Notification {
	return Notification{Label: label, Message: "Detected a checklist item: " + label}
}

// Match is the outcome of one inference pass.
type Match struct {
	Detections []types.Detection
	Labels     []string // Detected labels in record order
	Hits       []string // Detected labels present in the checklist, one per record
}

// Notifications returns one notification per hit. Hits are not deduplicated.
func (m Match) Notifications() []Notification {
	return lo.Map(m.Hits, func(label string, _ int) Notification {
		return NewNotification(label)
	})
}

// Matcher resolves labels and checks checklist membership.
type Matcher struct {
	classes   *classtable.Table
	checklist *checklist.Store
}

func New(classes *classtable.Table, list *checklist.Store) *Matcher {
	return &Matcher{classes: classes, checklist: list}
}

// Match parses t and checks every detected label against the checklist.
// Box coordinates are reported as-is (model input space).
func (m *Matcher) Match(t *types.Tensor) (Match, error) {
	records, err := Parse(t)
	if err != nil {
		return Match{}, err
	}

	out := Match{
		Detections: make([]types.Detection, 0, len(records)),
		Labels:     make([]string, 0, len(records)),
	}
	for _, r := range records {
		label, ok := m.classes.Label(r.ClassID)
		if !ok {
			label = UnknownLabel
		}
		out.Detections = append(out.Detections, types.Detection{
			ClassID:    r.ClassID,
			Label:      label,
			Confidence: clamp01(float64(r.Score)),
			BBox:       r.box(),
		})
		out.Labels = append(out.Labels, label)
		if ok && m.checklist.Contains(label) {
			out.Hits = append(out.Hits, label)
		}
	}
	return out, nil
}

func (r Record) box() types.BoundingBox {
	x0 := math.Min(float64(r.X0), float64(r.X1))
	y0 := math.Min(float64(r.Y0), float64(r.Y1))
	return types.BoundingBox{
		X: int(math.Round(x0)),
		Y: int(math.Round(y0)),
		W: int(math.Round(math.Abs(float64(r.X1 - r.X0)))),
		H: int(math.Round(math.Abs(float64(r.Y1 - r.Y0)))),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
