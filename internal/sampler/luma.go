package sampler

import (
	"image"
	"math"
)

// Rec. 709 primaries.
const (
	rec709RedPrimary   = 0.2126
	rec709GreenPrimary = 0.7152
	rec709BluePrimary  = 0.0722
)

func luma(r, g, b float64) float64 {
	return rec709RedPrimary*r + rec709GreenPrimary*g + rec709BluePrimary*b
}

// sampleArea estimates the perceptual brightness of one rectangle of a
// mapped pixel buffer as a majority-bucket luma in [0,1].
//
// Algorithm: a streaming 256-bucket histogram of quantized Rec. 709
// luma. If any single bucket accumulates an absolute majority of the
// region's pixels mid-scan, that bucket is the answer (early exit).
// Otherwise a cumulative second pass over the histogram returns the
// first bucket at which the running total exceeds half the pixel
// count - an approximate median without sorting.
//
// area is in buffer-local coordinates and must lie within the mapped
// buffer. Callers must skip zero-area rectangles: the majority
// threshold degenerates to 0 and the result is meaningless.
func sampleArea(pix []uint32, stride int, area image.Rectangle) float64 {
	var buckets [256]int32
	majority := int32(area.Dx() * area.Dy() / 2)

	for row := area.Min.Y; row < area.Max.Y; row++ {
		rowBase := pix[row*stride:]
		for col := area.Min.X; col < area.Max.X; col++ {
			p := rowBase[col]
			r := float64(p&0xFF) / 255.0
			g := float64((p>>8)&0xFF) / 255.0
			b := float64((p>>16)&0xFF) / 255.0
			bucket := int(math.Round(luma(r, g, b) * 255.0))
			buckets[bucket]++
			if buckets[bucket] > majority {
				return float64(bucket) / 255.0
			}
		}
	}

	// No single bucket held a majority: accumulate from the dark end
	// and return the first bucket past the halfway point. Bucket 0 is
	// eligible like any other.
	var accumulated int32
	for bucket := 0; bucket < len(buckets); bucket++ {
		accumulated += buckets[bucket]
		if accumulated > majority {
			return float64(bucket) / 255.0
		}
	}
	return 1.0
}
