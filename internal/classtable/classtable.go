// Package classtable maps model class ids to label strings.
package classtable

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// cocoLabels is the 80-class COCO label list used by the YOLO family.
var cocoLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog",
	"horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella",
	"handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone",
	"microwave", "oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
	"teddy bear", "hair drier", "toothbrush",
}

// Table is an immutable ordered label list; index = class id.
type Table struct {
	labels []string
	index  map[string]int
}

// New builds a table from labels. Labels are lower-cased.
func New(labels []string) *Table {
	lower := cases.Lower(language.Und)
	t := &Table{
		labels: make([]string, len(labels)),
		index:  make(map[string]int, len(labels)),
	}
	for i, l := range labels {
		l = lower.String(strings.TrimSpace(l))
		t.labels[i] = l
		if _, dup := t.index[l]; !dup {
			t.index[l] = i
		}
	}
	return t
}

// Default returns the COCO table.
func Default() *Table {
	return New(cocoLabels)
}

// Load reads one label per line. Blank lines are skipped.
func Load(r io.Reader) (*Table, error) {
	var labels []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("label file has no labels")
	}
	return New(labels), nil
}

// LoadFile reads a label file from disk.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Label returns the label for id.
func (t *Table) Label(id int) (string, bool) {
	if id < 0 || id >= len(t.labels) {
		return "", false
	}
	return t.labels[id], true
}

// ID returns the class id for label.
func (t *Table) ID(label string) (int, bool) {
	id, ok := t.index[label]
	return id, ok
}

// Contains reports whether label is in the table. Matching is exact.
func (t *Table) Contains(label string) bool {
	_, ok := t.index[label]
	return ok
}

// Labels returns a copy of the label list.
func (t *Table) Labels() []string {
	out := make([]string, len(t.labels))
	copy(out, t.labels)
	return out
}

func (t *Table) Len() int {
	return len(t.labels)
}
