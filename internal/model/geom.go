package model

import (
	"encoding/json"
	"fmt"
)

// Point is an (x, y) pair. On the wire it is a two element array.
type Point struct {
	X float64
	Y float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("point needs 2 values, got %d", len(raw))
	}
	p.X, p.Y = raw[0], raw[1]
	return nil
}

// BBox is an axis-aligned box in x1,y1,x2,y2 form. On the wire it is a four element array.
type BBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

func (b BBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.X1, b.Y1, b.X2, b.Y2})
}

func (b *BBox) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("bbox needs 4 values, got %d", len(raw))
	}
	b.X1, b.Y1, b.X2, b.Y2 = raw[0], raw[1], raw[2], raw[3]
	return nil
}

func (b BBox) Width() float64 {
	return max(0, b.X2-b.X1)
}

func (b BBox) Height() float64 {
	return max(0, b.Y2-b.Y1)
}

func (b BBox) Area() float64 {
	return b.Width() * b.Height()
}

func (b BBox) Empty() bool {
	return b.Area() == 0
}

func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// BottomCenter is the anchor used for floor position (roughly the feet of a person).
func (b BBox) BottomCenter() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: b.Y2}
}

// Corners returns top-left, top-right, bottom-left, bottom-right.
func (b BBox) Corners() [4]Point {
	return [4]Point{
		{X: b.X1, Y: b.Y1},
		{X: b.X2, Y: b.Y1},
		{X: b.X1, Y: b.Y2},
		{X: b.X2, Y: b.Y2},
	}
}

// IntersectionArea is zero when the boxes do not overlap.
func (b BBox) IntersectionArea(o BBox) float64 {
	x1 := max(b.X1, o.X1)
	y1 := max(b.Y1, o.Y1)
	x2 := min(b.X2, o.X2)
	y2 := min(b.Y2, o.Y2)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	return (x2 - x1) * (y2 - y1)
}

// IoU is intersection over union, 0 for disjoint or degenerate boxes.
func (b BBox) IoU(o BBox) float64 {
	inter := b.IntersectionArea(o)
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// OverlapOf is the fraction of o's area covered by b.
func (b BBox) OverlapOf(o BBox) float64 {
	area := o.Area()
	if area <= 0 {
		return 0
	}
	return b.IntersectionArea(o) / area
}

// Size is a frame size in pixels. The zero value means unknown.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Known() bool {
	return s.Width > 0 && s.Height > 0
}
