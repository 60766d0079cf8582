package opt

import "math"

// transform maps an unconstrained internal vector onto the bounded external space.
// Doubly bounded parameters use the sine transform, one-sided ones the square-root
// transform, so that any internal value lands inside the bounds.
type transform struct {
	bounds Bounds
}

func newTransform(bounds Bounds) transform {
	return transform{bounds: bounds}
}

// toExternal maps internal coordinates y to the bounded space
func (t transform) toExternal(dst, y []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(y))
	}
	if t.bounds == nil {
		copy(dst, y)
		return dst
	}
	for i, v := range y {
		dst[i] = t.external(i, v)
	}
	return dst
}

// toInternal maps a bounded point x to internal coordinates.
// Points outside the bounds are first clamped onto them.
func (t transform) toInternal(x []float64) []float64 {
	y := make([]float64, len(x))
	if t.bounds == nil {
		copy(y, x)
		return y
	}
	for i, v := range x {
		y[i] = t.internal(i, v)
	}
	return y
}

func (t transform) external(i int, y float64) float64 {
	b := t.bounds[i]
	switch {
	case b.HasLower() && b.HasUpper():
		return b.Lower + (b.Upper-b.Lower)/2*(math.Sin(y)+1)
	case b.HasLower():
		return b.Lower - 1 + math.Sqrt(y*y+1)
	case b.HasUpper():
		return b.Upper + 1 - math.Sqrt(y*y+1)
	default:
		return y
	}
}

func (t transform) internal(i int, x float64) float64 {
	b := t.bounds[i]
	switch {
	case b.HasLower() && b.HasUpper():
		s := 2*(x-b.Lower)/(b.Upper-b.Lower) - 1
		return math.Asin(clamp(s, -1, 1))
	case b.HasLower():
		d := math.Max(x-b.Lower+1, 1)
		return math.Sqrt(d*d - 1)
	case b.HasUpper():
		d := math.Max(b.Upper-x+1, 1)
		return math.Sqrt(d*d - 1)
	default:
		return x
	}
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}
