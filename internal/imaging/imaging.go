// Package imaging turns uploaded scan bytes into model input and computes the
// band intensity summary stored alongside each prediction.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/mri-screening-server/internal/domain"
)

// SuspiciousMean is the band mean intensity above which a region is flagged.
const SuspiciousMean = 150.0

// DefaultMaxPixels caps the decoded size of a scan at 50 megapixels.
const DefaultMaxPixels = 50_000_000

// Band names, top to bottom.
var Bands = []string{"frontal_lobe", "parietal_lobe", "occipital_lobe"}

// formatsByExt maps an upload extension to the format name image.Decode reports.
var formatsByExt = map[string]string{
	"png":  "png",
	"jpg":  "jpeg",
	"jpeg": "jpeg",
	"gif":  "gif",
	"bmp":  "bmp",
	"tiff": "tiff",
	"tif":  "tiff",
}

// Supported reports whether ext (with or without a leading dot) is a decodable format.
func Supported(ext string) bool {
	_, ok := formatsByExt[normalizeExt(ext)]
	return ok
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// Decode parses image bytes. The content is sniffed, so a mislabeled extension
// still decodes as long as the bytes are a supported format. The header is
// read first and images larger than maxPixels are refused before any pixel
// buffer is allocated; maxPixels <= 0 disables the limit.
func Decode(data []byte, ext string, maxPixels int) (image.Image, error) {
	if !Supported(ext) {
		return nil, fmt.Errorf("%w: unsupported extension %q", domain.ErrImageDecode, ext)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrImageDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrImageDecode)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d image exceeds %d pixels", domain.ErrImageDecode, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrImageDecode, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: empty image", domain.ErrImageDecode)
	}
	return img, nil
}

// Tensor is a size x size x 3 RGB array scaled to [0, 1], row major.
type Tensor [][][3]float32

// NewTensor resizes img to size x size with bilinear interpolation and
// normalizes each channel by 255. Every call returns a fresh buffer.
func NewTensor(img image.Image, size int) Tensor {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	t := make(Tensor, size)
	for y := 0; y < size; y++ {
		row := make([][3]float32, size)
		for x := 0; x < size; x++ {
			off := dst.PixOffset(x, y)
			row[x] = [3]float32{
				float32(dst.Pix[off]) / 255,
				float32(dst.Pix[off+1]) / 255,
				float32(dst.Pix[off+2]) / 255,
			}
		}
		t[y] = row
	}
	return t
}

// AnalyzeRegions splits the grayscale image into three horizontal bands and
// reports the mean and population standard deviation of each.
func AnalyzeRegions(img image.Image) domain.RegionAnalysis {
	b := img.Bounds()
	h := b.Dy()
	cuts := []int{0, h / 3, 2 * h / 3, h}

	analysis := make(domain.RegionAnalysis, len(Bands))
	for i, name := range Bands {
		var sum, sumSq float64
		var n int
		for y := b.Min.Y + cuts[i]; y < b.Min.Y+cuts[i+1]; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				v := float64(color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y)
				sum += v
				sumSq += v * v
				n++
			}
		}
		if n == 0 {
			analysis[name] = domain.RegionStats{}
			continue
		}
		mean := sum / float64(n)
		variance := sumSq/float64(n) - mean*mean
		if variance < 0 {
			variance = 0
		}
		analysis[name] = domain.RegionStats{
			MeanIntensity: mean,
			StdIntensity:  math.Sqrt(variance),
			Suspicious:    mean > SuspiciousMean,
		}
	}
	return analysis
}
