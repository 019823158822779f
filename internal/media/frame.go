package media

import "fmt"

// Frame is the fixed output geometry shared by every segment of a video.
type Frame struct {
	Width  int
	Height int
	FPS    int
}

// LetterboxFilter scales the input to fit inside the frame without
// distortion and pads the remainder with black, centred on both axes.
func (f Frame) LetterboxFilter() string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2",
		f.Width, f.Height, f.Width, f.Height,
	)
}

// Valid reports whether the frame can be encoded as yuv420p.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && f.Width%2 == 0 && f.Height%2 == 0 && f.FPS > 0
}
