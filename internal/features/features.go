// Package features holds keypoint/descriptor sets and the ratio-test matcher
// used to build correspondences between two tiles.
package features

import (
	"fmt"
	"image"
)

// Point is a keypoint location in tile pixel coordinates.
type Point struct {
	X, Y float64
}

// Descriptor is a packed binary descriptor (ORB produces 32 bytes).
type Descriptor []byte

// Set is the ordered keypoint/descriptor pair for one tile channel.
// Keypoints[i] is described by Descriptors[i].
type Set struct {
	Keypoints   []Point
	Descriptors []Descriptor
}

// Len reports the number of described keypoints.
func (s Set) Len() int { return len(s.Descriptors) }

// Validate checks that keypoints and descriptors line up and that every
// descriptor has the same width.
func (s Set) Validate() error {
	if len(s.Keypoints) != len(s.Descriptors) {
		return fmt.Errorf("%d keypoints but %d descriptors", len(s.Keypoints), len(s.Descriptors))
	}
	width := -1
	for i, d := range s.Descriptors {
		if width < 0 {
			width = len(d)
			continue
		}
		if len(d) != width {
			return fmt.Errorf("descriptor %d has width %d, want %d", i, len(d), width)
		}
	}
	return nil
}

// Extractor detects keypoints and computes descriptors for a grayscale image.
type Extractor interface {
	Extract(img *image.Gray) (Set, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(img *image.Gray) (Set, error)

// Extract calls f(img).
func (f ExtractorFunc) Extract(img *image.Gray) (Set, error) { return f(img) }
