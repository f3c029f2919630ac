// Package vision wraps the OpenCV inference pieces: the object
// detector the capture loop samples frames through, and the face
// redactor the worker applies to saved evidence.
package vision

import (
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"phonewatch-service/internal/domain/monitor"
)

// Detector runs object detection on an independent frame copy. Errors
// are treated by callers as "no detections this frame".
type Detector interface {
	Detect(frame monitor.Frame) ([]monitor.Box, error)
}

const (
	yoloInputSize   = 416
	nmsScoreFloor   = 0.1
	nmsIoUThreshold = 0.45
)

// YOLODetector drives a darknet-style network through the OpenCV DNN
// module.
type YOLODetector struct {
	net         gocv.Net
	outputNames []string
	log         zerolog.Logger
}

func NewYOLODetector(weightsPath, configPath string, log zerolog.Logger) (*YOLODetector, error) {
	net := gocv.ReadNet(weightsPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model from %s", weightsPath)
	}

	var outputs []string
	for _, layer := range net.GetUnconnectedOutLayers() {
		outputs = append(outputs, net.GetLayer(layer).GetName())
	}

	log.Info().
		Str("weights", weightsPath).
		Strs("output_layers", outputs).
		Msg("detection model loaded")

	return &YOLODetector{net: net, outputNames: outputs, log: log}, nil
}

func (d *YOLODetector) Close() error {
	return d.net.Close()
}

// Detect decodes the snapshot, runs a forward pass and returns boxes
// after non-maximum suppression. Scores below a small floor are
// discarded here; the configured confidence threshold is applied by
// the capture loop.
func (d *YOLODetector) Detect(frame monitor.Frame) ([]monitor.Box, error) {
	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(yoloInputSize, yoloInputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	outputs := d.net.ForwardLayers(d.outputNames)
	defer func() {
		for _, o := range outputs {
			o.Close()
		}
	}()

	var (
		rects   []image.Rectangle
		scores  []float32
		classes []int
	)
	for _, out := range outputs {
		data, err := out.DataPtrFloat32()
		if err != nil {
			continue
		}
		cols := out.Cols()
		for row := 0; row < out.Rows(); row++ {
			offset := row * cols
			classID, score := bestClass(data[offset+5 : offset+cols])
			if score < nmsScoreFloor {
				continue
			}
			cx := float64(data[offset]) * float64(img.Cols())
			cy := float64(data[offset+1]) * float64(img.Rows())
			w := float64(data[offset+2]) * float64(img.Cols())
			h := float64(data[offset+3]) * float64(img.Rows())
			rects = append(rects, image.Rect(
				int(cx-w/2), int(cy-h/2), int(cx+w/2), int(cy+h/2)))
			scores = append(scores, score)
			classes = append(classes, classID)
		}
	}
	if len(rects) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(rects, scores, nmsScoreFloor, nmsIoUThreshold)
	boxes := make([]monitor.Box, 0, len(keep))
	for _, i := range keep {
		boxes = append(boxes, monitor.Box{
			ClassID:    classes[i],
			Confidence: float64(scores[i]),
			X1:         rects[i].Min.X,
			Y1:         rects[i].Min.Y,
			X2:         rects[i].Max.X,
			Y2:         rects[i].Max.Y,
		})
	}
	return boxes, nil
}

func bestClass(scores []float32) (int, float32) {
	best, bestScore := 0, float32(0)
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}
