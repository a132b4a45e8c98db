// Package registration builds the tile registration graph: pairwise
// translation estimates, greedy spanning-forest assembly, component
// partitioning and global offset composition.
package registration

import (
	"fmt"
	"image"
	"strings"

	"automontage/internal/features"
)

// Channel is one of the three co-registered imaging modalities.
type Channel int

const (
	ChannelConfocal Channel = iota
	ChannelSplit
	ChannelAvg

	NumChannels = 3
)

var channelNames = [NumChannels]string{"confocal", "split", "avg"}

func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// Channels lists every channel in fixed order.
func Channels() []Channel {
	return []Channel{ChannelConfocal, ChannelSplit, ChannelAvg}
}

// ParseChannel maps a channel name back to its Channel.
func ParseChannel(s string) (Channel, error) {
	for i, name := range channelNames {
		if strings.EqualFold(s, name) {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// Vec is a 2-D translation in pixels.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec) Add(o Vec) Vec { return Vec{X: v.X + o.X, Y: v.Y + o.Y} }
func (v Vec) Sub(o Vec) Vec { return Vec{X: v.X - o.X, Y: v.Y - o.Y} }

// Dist2 is the squared Euclidean distance between v and o.
func (v Vec) Dist2(o Vec) float64 {
	dx, dy := v.X-o.X, v.Y-o.Y
	return dx*dx + dy*dy
}

// Tile is one imaging field. All channels share one pixel grid; Pixels may
// be nil when only registration (not compositing) is needed.
type Tile struct {
	Index    int
	Name     string
	Nominal  Vec
	Paths    [NumChannels]string
	Pixels   [NumChannels]*image.Gray
	Features [NumChannels]features.Set
}

// Size returns the shared channel dimensions, or zero when no pixels are loaded.
func (t *Tile) Size() (w, h int) {
	for _, p := range t.Pixels {
		if p != nil {
			b := p.Bounds()
			return b.Dx(), b.Dy()
		}
	}
	return 0, 0
}

func validateTiles(tiles []Tile) error {
	for i := range tiles {
		t := &tiles[i]
		if t.Index != i {
			return tileError(i, nil, "index %d does not match position", t.Index)
		}
		var w, h, present int
		for _, p := range t.Pixels {
			if p != nil {
				present++
			}
		}
		for c, p := range t.Pixels {
			if p == nil {
				if present > 0 {
					return tileError(i, nil, "channel %s has no pixels", Channel(c))
				}
				continue
			}
			b := p.Bounds()
			if w == 0 && h == 0 {
				w, h = b.Dx(), b.Dy()
			} else if b.Dx() != w || b.Dy() != h {
				return tileError(i, nil, "channel %s is %dx%d, want %dx%d", Channel(c), b.Dx(), b.Dy(), w, h)
			}
		}
		for c, set := range t.Features {
			if err := set.Validate(); err != nil {
				return tileError(i, err, "channel %s features", Channel(c))
			}
		}
	}
	return nil
}
