package grid

import (
	"golang.org/x/xerrors"
)

// Metric selects how the difference of one pixel pair is measured.
type Metric int

const (
	// MeanAbsolute averages |a-b| over the R, G and B channels (or the single
	// channel of gray images). Alpha is ignored.
	MeanAbsolute Metric = iota
	// Luma compares BT.601 luma (0.299R + 0.587G + 0.114B), which weighs green
	// changes higher than blue ones.
	Luma
)

func ParseMetric(s string) (Metric, error) {
	switch s {
	case "mean-absolute", "":
		return MeanAbsolute, nil
	case "luma":
		return Luma, nil
	default:
		return 0, xerrors.Errorf("unknown metric: %s", s)
	}
}

func (m Metric) String() string {
	switch m {
	case MeanAbsolute:
		return "mean-absolute"
	case Luma:
		return "luma"
	default:
		return "unknown"
	}
}

// maxChannelValue is the largest per-channel difference for 8-bit samples.
const maxChannelValue = 255

// rgbChannels returns how many channels a color pixel contributes under m.
func (m Metric) rgbChannels() int {
	if m == Luma {
		return 1
	}
	return 3
}

func (m Metric) rgb(br uint8, bg uint8, bb uint8, tr uint8, tg uint8, tb uint8) uint64 {
	if m == Luma {
		return absDiff(luma(br, bg, bb), luma(tr, tg, tb))
	}
	return absDiff(br, tr) + absDiff(bg, tg) + absDiff(bb, tb)
}

func absDiff(a uint8, b uint8) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

// luma uses the same 16-bit fixed point coefficients as color.GrayModel.
func luma(r uint8, g uint8, b uint8) uint8 {
	// 0.299 * 65536 = 19595, 0.587 * 65536 = 38470, 0.114 * 65536 = 7471
	y := (19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16
	return uint8(y)
}
