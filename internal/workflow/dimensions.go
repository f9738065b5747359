package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultAspectRatio is used when a request does not name one.
const DefaultAspectRatio = "1_1"

// Dimensions returns the image width and height for an aspect ratio written
// as "W:H" or "W_H". The longer side equals maxSize.
func Dimensions(maxSize int, aspectRatio string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ReplaceAll(aspectRatio, "_", ":"), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: aspect ratio %q", ErrInvalidAspectRatio, aspectRatio)
	}
	wr, err := strconv.Atoi(w)
	if err != nil || wr <= 0 {
		return 0, 0, fmt.Errorf("%w: aspect ratio %q", ErrInvalidAspectRatio, aspectRatio)
	}
	hr, err := strconv.Atoi(h)
	if err != nil || hr <= 0 {
		return 0, 0, fmt.Errorf("%w: aspect ratio %q", ErrInvalidAspectRatio, aspectRatio)
	}

	ratio := float64(wr) / float64(hr)
	if ratio > 1 {
		return maxSize, int(float64(maxSize) / ratio), nil
	}
	return int(float64(maxSize) * ratio), maxSize, nil
}
