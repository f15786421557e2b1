package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"zoneguard/internal/model"
)

var ErrBadCalibration = errors.New("invalid calibration")

// Projector maps a feed's pixel space into normalized floor plan space.
// The zero value (and a nil *Projector) is the identity calibration: pixel coordinates
// are divided by the frame size when it is known and passed through otherwise.
type Projector struct {
	h   *mat.Dense
	inv *mat.Dense
}

// Identity returns a projector that keeps the detector's own normalization.
func Identity() *Projector {
	return &Projector{}
}

// NewHomography solves the projective transform taking the four image points onto the
// four plan points.
func NewHomography(image, plan []model.Point) (*Projector, error) {
	if len(image) != 4 || len(plan) != 4 {
		return nil, fmt.Errorf("%w: need 4 point pairs, got %d/%d", ErrBadCalibration, len(image), len(plan))
	}
	a := mat.NewDense(8, 8, nil)
	b := mat.NewVecDense(8, nil)
	for i := 0; i < 4; i++ {
		x, y := image[i].X, image[i].Y
		u, v := plan[i].X, plan[i].Y
		a.SetRow(2*i, []float64{x, y, 1, 0, 0, 0, -u * x, -u * y})
		a.SetRow(2*i+1, []float64{0, 0, 0, x, y, 1, -v * x, -v * y})
		b.SetVec(2*i, u)
		b.SetVec(2*i+1, v)
	}
	var h mat.VecDense
	if err := h.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCalibration, err)
	}
	hm := mat.NewDense(3, 3, []float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), 1,
	})
	var inv mat.Dense
	if err := inv.Inverse(hm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCalibration, err)
	}
	return &Projector{h: hm, inv: &inv}, nil
}

// IsIdentity reports whether no projective transform is configured.
func (p *Projector) IsIdentity() bool {
	return p == nil || p.h == nil
}

// Project maps a pixel point into normalized space. ok is false when the transform
// sends the point to infinity; callers treat that as "not contained anywhere".
func (p *Projector) Project(pt model.Point, frame model.Size) (model.Point, bool) {
	if p.IsIdentity() {
		if frame.Known() {
			pt = model.Point{X: pt.X / float64(frame.Width), Y: pt.Y / float64(frame.Height)}
		}
		return pt, finite(pt)
	}
	return apply(p.h, pt)
}

// Unproject maps a normalized polygon or line back into pixel space for display.
// Vertices that cannot be mapped are dropped.
func (p *Projector) Unproject(points []model.Point, frame model.Size) []model.Point {
	out := make([]model.Point, 0, len(points))
	for _, pt := range points {
		if p.IsIdentity() {
			if frame.Known() {
				pt = model.Point{X: pt.X * float64(frame.Width), Y: pt.Y * float64(frame.Height)}
			}
			out = append(out, pt)
			continue
		}
		if q, ok := apply(p.inv, pt); ok {
			out = append(out, q)
		}
	}
	return out
}

func apply(m *mat.Dense, pt model.Point) (model.Point, bool) {
	x := m.At(0, 0)*pt.X + m.At(0, 1)*pt.Y + m.At(0, 2)
	y := m.At(1, 0)*pt.X + m.At(1, 1)*pt.Y + m.At(1, 2)
	w := m.At(2, 0)*pt.X + m.At(2, 1)*pt.Y + m.At(2, 2)
	if math.Abs(w) < 1e-12 {
		return model.Point{}, false
	}
	out := model.Point{X: x / w, Y: y / w}
	return out, finite(out)
}
