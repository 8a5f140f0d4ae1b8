package ai

import "fmt"

// cocoLabels maps SSD MobileNet COCO class ids to names.
var cocoLabels = map[int]string{
	1:  "person",
	2:  "bicycle",
	3:  "car",
	4:  "motorcycle",
	5:  "airplane",
	6:  "bus",
	7:  "train",
	8:  "truck",
	9:  "boat",
	10: "traffic light",
	16: "bird",
	17: "cat",
	18: "dog",
	19: "horse",
	44: "bottle",
	47: "cup",
	62: "chair",
	63: "couch",
	64: "potted plant",
	72: "tv",
	73: "laptop",
	77: "cell phone",
	84: "book",
}

// ClassLabel returns the COCO name for classID.
func ClassLabel(classID int) string {
	if label, exists := cocoLabels[classID]; exists {
		return label
	}
	return fmt.Sprintf("unknown_%d", classID)
}
