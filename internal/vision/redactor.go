package vision

import (
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"phonewatch-service/internal/domain/monitor"
)

var ErrNoClassifier = errors.New("face classifier not loaded")

// FaceRedactor blurs detected faces on saved evidence images. Redaction
// runs post-save in the worker, never inside the capture loop.
type FaceRedactor struct {
	cascade gocv.CascadeClassifier
	loaded  bool
	log     zerolog.Logger
}

func NewFaceRedactor(cascadePath string, log zerolog.Logger) *FaceRedactor {
	cascade := gocv.NewCascadeClassifier()
	loaded := cascade.Load(cascadePath)
	if !loaded {
		log.Warn().
			Str("cascade", cascadePath).
			Msg("face classifier failed to load, redaction will fail open")
	}
	return &FaceRedactor{cascade: cascade, loaded: loaded, log: log}
}

func (r *FaceRedactor) Close() error {
	return r.cascade.Close()
}

// Redact replaces the frame's JPEG with a copy where every detected
// face is Gaussian-blurred. With no faces found the image is rewritten
// unchanged.
func (r *FaceRedactor) Redact(frame *monitor.Frame) error {
	if !r.loaded {
		return ErrNoClassifier
	}

	img, err := gocv.IMDecode(frame.JPEG, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("decoding snapshot: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return errors.New("decoded snapshot is empty")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	faces := r.cascade.DetectMultiScaleWithParams(gray, 1.1, 4, 0,
		image.Pt(24, 24), image.Pt(0, 0))
	for _, face := range faces {
		region := img.Region(face)
		gocv.GaussianBlur(region, &region, image.Pt(51, 51), 0, 0, gocv.BorderDefault)
		region.Close()
	}

	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return fmt.Errorf("re-encoding snapshot: %w", err)
	}
	defer buf.Close()

	frame.JPEG = make([]byte, len(buf.GetBytes()))
	copy(frame.JPEG, buf.GetBytes())

	r.log.Debug().Int("faces", len(faces)).Msg("snapshot redacted")
	return nil
}
