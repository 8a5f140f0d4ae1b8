package codec

import (
	"fmt"
	"image"
	"image/color"

	"visionrelay/internal/model"

	"gocv.io/x/gocv"
)

const (
	// WebPExt is the wire format for frames sent to the detection service.
	WebPExt gocv.FileExt = ".webp"
	// JPEGExt is used for annotated snapshots and viewer frames.
	JPEGExt gocv.FileExt = ".jpg"
)

// Encoder resizes frames to the detector input size and compresses them.
type Encoder struct {
	Width   int
	Height  int
	Quality int
}

// NewEncoder creates a WEBP encoder for the given target size.
func NewEncoder(width, height, quality int) *Encoder {
	return &Encoder{Width: width, Height: height, Quality: quality}
}

// Encode converts img to a resized WEBP image.
func (e *Encoder) Encode(img image.Image) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to Mat: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("image is empty")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(e.Width, e.Height), 0, 0, gocv.InterpolationArea)

	return encodeMat(WebPExt, resized, []int{int(gocv.IMWriteWebpQuality), e.Quality})
}

// Decode turns an encoded image (JPEG, WEBP, PNG) into a raster.
func Decode(data []byte) (image.Image, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert Mat to image: %w", err)
	}
	return img, nil
}

// Annotate draws the result's boxes and labels on a copy of img and returns
// it as JPEG. Box coordinates are scaled from [0,1] to pixels.
func Annotate(img image.Image, boxes []model.BoundingBox) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to Mat: %w", err)
	}
	defer mat.Close()

	blue := color.RGBA{R: 0, G: 0, B: 255, A: 0}
	red := color.RGBA{R: 255, G: 0, B: 0, A: 0}
	w, h := float64(mat.Cols()), float64(mat.Rows())

	for _, box := range boxes {
		rect := image.Rect(int(box.X1*w), int(box.Y1*h), int(box.X2*w), int(box.Y2*h))
		if err := gocv.Rectangle(&mat, rect, blue, 4); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}

		label := fmt.Sprintf("%s (%.2f)", box.Label, box.Confidence)
		pt := image.Pt(rect.Min.X, rect.Min.Y-5)
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.6, red, 2); err != nil {
			return nil, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	return encodeMat(JPEGExt, mat, nil)
}

func encodeMat(ext gocv.FileExt, mat gocv.Mat, params []int) ([]byte, error) {
	var (
		buf *gocv.NativeByteBuffer
		err error
	)
	if len(params) > 0 {
		buf, err = gocv.IMEncodeWithParams(ext, mat, params)
	} else {
		buf, err = gocv.IMEncode(ext, mat)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", ext, err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
