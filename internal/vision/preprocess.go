package vision

import (
	"gocv.io/x/gocv"

	"phonewatch-service/internal/domain/monitor"
)

// Normalize returns a contrast-equalized copy of the frame for
// detection. The input is never mutated; the stored "last frame" keeps
// its original pixels.
func Normalize(frame monitor.Frame) monitor.Frame {
	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil || img.Empty() {
		return frame
	}
	defer img.Close()

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(img, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	if len(channels) != 3 {
		return frame
	}

	clahe := gocv.NewCLAHE()
	defer clahe.Close()
	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(channels[0], &equalized)
	equalized.CopyTo(&channels[0])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	out := gocv.NewMat()
	defer out.Close()
	gocv.CvtColor(merged, &out, gocv.ColorLabToBGR)

	buf, err := gocv.IMEncode(".jpg", out)
	if err != nil {
		return frame
	}
	defer buf.Close()

	normalized := frame
	normalized.JPEG = make([]byte, len(buf.GetBytes()))
	copy(normalized.JPEG, buf.GetBytes())
	return normalized
}
