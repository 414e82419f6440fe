package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Preprocess decodes a raster image and runs the fixed grayscale, denoise and
// Otsu binarization steps, returning the result as PNG bytes.
func Preprocess(content []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	bin := Binarize(Denoise(Grayscale(img)))

	var buf bytes.Buffer
	if err := png.Encode(&buf, bin); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Grayscale converts img to 8-bit luma.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Denoise applies a 3x3 median filter, replicating edge pixels.
func Denoise(src *image.Gray) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	var window [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					window[n] = src.GrayAt(b.Min.X+clampInt(x+dx, 0, w-1), b.Min.Y+clampInt(y+dy, 0, h-1)).Y
					n++
				}
			}
			insertionSort(window[:])
			dst.Pix[y*dst.Stride+x] = window[4]
		}
	}
	return dst
}

// Binarize thresholds src at its Otsu level: pixels above the level become 255, the rest 0.
func Binarize(src *image.Gray) *image.Gray {
	t := OtsuThreshold(src)
	dst := image.NewGray(src.Bounds())
	for i, v := range src.Pix {
		if v > t {
			dst.Pix[i] = 255
		}
	}
	return dst
}

// OtsuThreshold returns the level that maximizes between-class variance of src's histogram.
func OtsuThreshold(src *image.Gray) uint8 {
	var hist [256]int
	for _, v := range src.Pix {
		hist[v]++
	}
	total := len(src.Pix)
	if total == 0 {
		return 0
	}

	var sumAll float64
	for i, c := range hist {
		sumAll += float64(i * c)
	}

	var (
		sumBg    float64
		weightBg int
		best     float64
		level    uint8
	)
	for t := 0; t < 256; t++ {
		weightBg += hist[t]
		if weightBg == 0 {
			continue
		}
		weightFg := total - weightBg
		if weightFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		meanBg := sumBg / float64(weightBg)
		meanFg := (sumAll - sumBg) / float64(weightFg)
		between := float64(weightBg) * float64(weightFg) * (meanBg - meanFg) * (meanBg - meanFg)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

func insertionSort(a []uint8) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j] < a[j-1]; j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
