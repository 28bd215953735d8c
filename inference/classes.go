package inference

import (
	"bufio"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ClassSet names a built-in list of class labels.
type ClassSet string

// ClassSet constants.
const (
	// ClassSetCOCO is the 80 class list used by YOLO style detectors.
	ClassSetCOCO ClassSet = "coco"
	// ClassSetCOCOBackground prepends __background__, as torchvision
	// detectors index their outputs.
	ClassSetCOCOBackground ClassSet = "coco-background"
)

// COCOClasses are the 80 COCO detection classes in model output order.
var COCOClasses = []string{ //nolint:gochecknoglobals
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// LoadLabels resolves a class set name or reads a label file with one label
// per line. Blank lines are skipped.
//
// Arguments:
//   - source: A ClassSet name or a file path.
//
// Returns:
//   - []string: The labels in output index order.
//   - error: An error if the file cannot be read or is empty.
func LoadLabels(source string) ([]string, error) {
	switch ClassSet(strings.ToLower(source)) {
	case ClassSetCOCO:
		return append([]string(nil), COCOClasses...), nil
	case ClassSetCOCOBackground:
		return append([]string{"__background__"}, COCOClasses...), nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open label file")
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", source)
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("label file %s is empty", source)
	}
	return labels, nil
}

// ClassScore is one entry of TopK.
type ClassScore struct {
	Index int     `json:"index"`
	Label string  `json:"label,omitempty"`
	Score float32 `json:"score"`
}

// TopK returns the k highest values of the output, highest first, labelled
// by their flat index when labels covers it. Ties keep index order.
func (o Output) TopK(k int, labels []string) []ClassScore {
	if k > len(o.Data) {
		k = len(o.Data)
	}
	if k <= 0 {
		return nil
	}

	order := make([]int, len(o.Data))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return o.Data[order[a]] > o.Data[order[b]] })

	scores := make([]ClassScore, k)
	for i, idx := range order[:k] {
		scores[i] = ClassScore{Index: idx, Score: o.Data[idx]}
		if idx < len(labels) {
			scores[i].Label = labels[idx]
		}
	}
	return scores
}
