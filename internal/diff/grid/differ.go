package grid

import (
	"image"
	"image/color"
	"runtime"
	"sync"

	"golang.org/x/xerrors"
)

type Differ interface {
	Calculate(previous image.Image, current image.Image, gridSize int) (*ScoreMatrix, error)
}

// GridDiff scores every cell of a gridSize×gridSize partition by the mean
// absolute per-pixel difference of the two frames, divided by 255 and clamped
// to [0, 1]. Sums are kept as integers until the final division, so identical
// inputs always produce identical scores.
type GridDiff struct {
	metric Metric
}

func NewGridDiff(metric Metric) *GridDiff {
	return &GridDiff{
		metric,
	}
}

func (g *GridDiff) Calculate(previous image.Image, current image.Image, gridSize int) (*ScoreMatrix, error) {
	if err := Validate(previous); err != nil {
		return nil, xerrors.Errorf("failed to validate previous frame: %w", err)
	}
	if err := Validate(current); err != nil {
		return nil, xerrors.Errorf("failed to validate current frame: %w", err)
	}

	previousBounds := previous.Bounds()
	currentBounds := current.Bounds()
	if previousBounds.Dx() != currentBounds.Dx() || previousBounds.Dy() != currentBounds.Dy() {
		return nil, xerrors.Errorf("previous frame is %dx%d, current frame is %dx%d: %w",
			previousBounds.Dx(), previousBounds.Dy(), currentBounds.Dx(), currentBounds.Dy(), ErrDimensionMismatch)
	}

	width := previousBounds.Dx()
	height := previousBounds.Dy()

	cells, err := Cells(image.Rect(0, 0, width, height), gridSize)
	if err != nil {
		return nil, err
	}

	s := &scan{
		metric: g.metric,
		n:      gridSize,
		width:  width,
		cols:   indexTable(width, gridSize),
		rows:   indexTable(height, gridSize),
	}

	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	numWorkers := min(runtime.GOMAXPROCS(0), height)
	rowsPerWorker := height / numWorkers

	partial := make([][]uint64, numWorkers)

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = height
		}
		partial[i] = make([]uint64, gridSize*gridSize)

		go func(sums []uint64, startY int, endY int) {
			defer wg.Done()
			s.process(previous, current, sums, startY, endY)
		}(partial[i], startY, endY)
	}
	wg.Wait()

	channels := float64(s.channels(previous, current))
	scores := newScoreMatrix(gridSize)
	for j := 0; j < gridSize; j++ {
		for i := 0; i < gridSize; i++ {
			area := cells[j][i].Dx() * cells[j][i].Dy()
			if area == 0 {
				continue
			}

			var total uint64
			for _, sums := range partial {
				total += sums[j*gridSize+i]
			}
			scores.set(i, j, clamp(float64(total)/(float64(area)*channels*maxChannelValue)))
		}
	}

	return scores, nil
}

// scan walks frame rows relative to each image's origin and adds per-pixel
// differences to the sum of the owning cell.
type scan struct {
	metric Metric
	n      int
	width  int
	cols   []int
	rows   []int
}

func (s *scan) channels(previous image.Image, current image.Image) int {
	_, previousIsGray := previous.(*image.Gray)
	_, currentIsGray := current.(*image.Gray)
	if previousIsGray && currentIsGray {
		return 1
	}
	return s.metric.rgbChannels()
}

func (s *scan) process(previous image.Image, current image.Image, sums []uint64, startY int, endY int) {
	switch p := previous.(type) {
	case *image.RGBA:
		if c, ok := current.(*image.RGBA); ok {
			s.processPix4(p.Pix, p.Stride, p.PixOffset(p.Rect.Min.X, p.Rect.Min.Y), c.Pix, c.Stride, c.PixOffset(c.Rect.Min.X, c.Rect.Min.Y), sums, startY, endY)
			return
		}
	case *image.NRGBA:
		if c, ok := current.(*image.NRGBA); ok {
			s.processPix4(p.Pix, p.Stride, p.PixOffset(p.Rect.Min.X, p.Rect.Min.Y), c.Pix, c.Stride, c.PixOffset(c.Rect.Min.X, c.Rect.Min.Y), sums, startY, endY)
			return
		}
	case *image.Gray:
		if c, ok := current.(*image.Gray); ok {
			s.processGray(p, c, sums, startY, endY)
			return
		}
	case *image.YCbCr:
		if c, ok := current.(*image.YCbCr); ok {
			s.processYCbCr(p, c, sums, startY, endY)
			return
		}
	}
	s.processGeneric(previous, current, sums, startY, endY)
}

// processPix4 handles RGBA and NRGBA, both stored as 4 bytes per pixel.
func (s *scan) processPix4(previousPix []uint8, previousStride int, previousOrigin int, currentPix []uint8, currentStride int, currentOrigin int, sums []uint64, startY int, endY int) {
	for y := startY; y < endY; y++ {
		rowBase := s.rows[y] * s.n
		po := previousOrigin + y*previousStride
		co := currentOrigin + y*currentStride

		for x := 0; x < s.width; x++ {
			sums[rowBase+s.cols[x]] += s.metric.rgb(
				previousPix[po], previousPix[po+1], previousPix[po+2],
				currentPix[co], currentPix[co+1], currentPix[co+2],
			)
			po += 4
			co += 4
		}
	}
}

func (s *scan) processGray(previous *image.Gray, current *image.Gray, sums []uint64, startY int, endY int) {
	previousOrigin := previous.PixOffset(previous.Rect.Min.X, previous.Rect.Min.Y)
	currentOrigin := current.PixOffset(current.Rect.Min.X, current.Rect.Min.Y)

	for y := startY; y < endY; y++ {
		rowBase := s.rows[y] * s.n
		po := previousOrigin + y*previous.Stride
		co := currentOrigin + y*current.Stride

		for x := 0; x < s.width; x++ {
			sums[rowBase+s.cols[x]] += absDiff(previous.Pix[po+x], current.Pix[co+x])
		}
	}
}

func (s *scan) processYCbCr(previous *image.YCbCr, current *image.YCbCr, sums []uint64, startY int, endY int) {
	pMin := previous.Rect.Min
	cMin := current.Rect.Min

	for y := startY; y < endY; y++ {
		rowBase := s.rows[y] * s.n

		for x := 0; x < s.width; x++ {
			pyi := previous.YOffset(pMin.X+x, pMin.Y+y)
			cyi := current.YOffset(cMin.X+x, cMin.Y+y)

			// Y is BT.601 full-range luma already.
			if s.metric == Luma {
				sums[rowBase+s.cols[x]] += absDiff(previous.Y[pyi], current.Y[cyi])
				continue
			}

			pci := previous.COffset(pMin.X+x, pMin.Y+y)
			cci := current.COffset(cMin.X+x, cMin.Y+y)

			br, bg, bb := ycbcrToRGB(previous.Y[pyi], previous.Cb[pci], previous.Cr[pci])
			tr, tg, tb := ycbcrToRGB(current.Y[cyi], current.Cb[cci], current.Cr[cci])
			sums[rowBase+s.cols[x]] += s.metric.rgb(br, bg, bb, tr, tg, tb)
		}
	}
}

func (s *scan) processGeneric(previous image.Image, current image.Image, sums []uint64, startY int, endY int) {
	pMin := previous.Bounds().Min
	cMin := current.Bounds().Min

	for y := startY; y < endY; y++ {
		rowBase := s.rows[y] * s.n

		for x := 0; x < s.width; x++ {
			b := color.RGBAModel.Convert(previous.At(pMin.X+x, pMin.Y+y)).(color.RGBA)
			t := color.RGBAModel.Convert(current.At(cMin.X+x, cMin.Y+y)).(color.RGBA)
			sums[rowBase+s.cols[x]] += s.metric.rgb(b.R, b.G, b.B, t.R, t.G, t.B)
		}
	}
}

func ycbcrToRGB(y uint8, cb uint8, cr uint8) (uint8, uint8, uint8) {
	// ITU-R BT.601 full range as used by JPEG (JFIF section 7):
	// R = Y + 1.402 (Cr-128)
	// G = Y - 0.344136 (Cb-128) - 0.714136 (Cr-128)
	// B = Y + 1.772 (Cb-128)
	const (
		crToR = 91881  // 1.402 * 65536
		cbToG = 22554  // 0.344136 * 65536
		crToG = 46802  // 0.714136 * 65536
		cbToB = 116130 // 1.772 * 65536
	)

	yy := int32(y) * 0x10101
	cb1 := int32(cb) - 128
	cr1 := int32(cr) - 128

	r := (yy + crToR*cr1) >> 16
	g := (yy - cbToG*cb1 - crToG*cr1) >> 16
	b := (yy + cbToB*cb1) >> 16

	return clampUint8(r), clampUint8(g), clampUint8(b)
}

func clampUint8(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Validate reports ErrInvalidImage for nil, zero-area or malformed rasters.
func Validate(img image.Image) error {
	switch p := img.(type) {
	case nil:
		return xerrors.Errorf("nil image: %w", ErrInvalidImage)
	case *image.RGBA:
		if p == nil {
			return xerrors.Errorf("nil image: %w", ErrInvalidImage)
		}
	case *image.NRGBA:
		if p == nil {
			return xerrors.Errorf("nil image: %w", ErrInvalidImage)
		}
	case *image.Gray:
		if p == nil {
			return xerrors.Errorf("nil image: %w", ErrInvalidImage)
		}
	case *image.YCbCr:
		if p == nil {
			return xerrors.Errorf("nil image: %w", ErrInvalidImage)
		}
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return xerrors.Errorf("image is %dx%d: %w", bounds.Dx(), bounds.Dy(), ErrInvalidImage)
	}

	last := image.Point{X: bounds.Max.X - 1, Y: bounds.Max.Y - 1}
	switch p := img.(type) {
	case *image.RGBA:
		if p.Stride < 4*bounds.Dx() || len(p.Pix) < p.PixOffset(last.X, last.Y)+4 {
			return xerrors.Errorf("pixel buffer too short for %v: %w", bounds, ErrInvalidImage)
		}
	case *image.NRGBA:
		if p.Stride < 4*bounds.Dx() || len(p.Pix) < p.PixOffset(last.X, last.Y)+4 {
			return xerrors.Errorf("pixel buffer too short for %v: %w", bounds, ErrInvalidImage)
		}
	case *image.Gray:
		if p.Stride < bounds.Dx() || len(p.Pix) < p.PixOffset(last.X, last.Y)+1 {
			return xerrors.Errorf("pixel buffer too short for %v: %w", bounds, ErrInvalidImage)
		}
	case *image.YCbCr:
		if p.YStride < bounds.Dx() || p.CStride < chromaWidth(p.SubsampleRatio, bounds) {
			return xerrors.Errorf("plane strides too short for %v: %w", bounds, ErrInvalidImage)
		}
		if len(p.Y) < p.YOffset(last.X, last.Y)+1 {
			return xerrors.Errorf("luma plane too short for %v: %w", bounds, ErrInvalidImage)
		}
		c := p.COffset(last.X, last.Y)
		if len(p.Cb) < c+1 || len(p.Cr) < c+1 {
			return xerrors.Errorf("chroma planes too short for %v: %w", bounds, ErrInvalidImage)
		}
	}

	return nil
}

// chromaWidth is the number of Cb and Cr samples in one row of bounds.
func chromaWidth(ratio image.YCbCrSubsampleRatio, bounds image.Rectangle) int {
	switch ratio {
	case image.YCbCrSubsampleRatio422, image.YCbCrSubsampleRatio420:
		return (bounds.Max.X+1)/2 - bounds.Min.X/2
	case image.YCbCrSubsampleRatio411, image.YCbCrSubsampleRatio410:
		return (bounds.Max.X+3)/4 - bounds.Min.X/4
	default:
		return bounds.Dx()
	}
}
