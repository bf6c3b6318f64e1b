package preprocess

import (
	"image"
	"image/draw"

	"github.com/disintegration/gift"
	"github.com/disintegration/imaging"
)

type Options struct {
	// Width downscales frames wider than this, keeping the aspect ratio. 0 disables it.
	Width int
	// Grayscale converts frames to *image.Gray so the Differ takes its single-channel path.
	Grayscale bool
	// BlurSigma applies a Gaussian blur to suppress sensor noise. 0 disables it.
	BlurSigma float32
}

type Preprocessor struct {
	width   int
	filters *gift.GIFT
	gray    bool
}

func New(opts Options) *Preprocessor {
	g := gift.New()
	if opts.Grayscale {
		g.Add(gift.Grayscale())
	}
	if opts.BlurSigma > 0 {
		g.Add(gift.GaussianBlur(opts.BlurSigma))
	}
	return &Preprocessor{
		width:   opts.Width,
		filters: g,
		gray:    opts.Grayscale,
	}
}

// Apply returns a new image and never modifies img. When no option is
// enabled img itself is returned.
func (p *Preprocessor) Apply(img image.Image) image.Image {
	if img == nil {
		return nil
	}

	out := img
	if p.width > 0 && out.Bounds().Dx() > p.width {
		out = imaging.Resize(out, p.width, 0, imaging.Box)
	}

	if len(p.filters.Filters) == 0 {
		return out
	}

	bounds := p.filters.Bounds(out.Bounds())
	var dst draw.Image
	if p.gray {
		dst = image.NewGray(bounds)
	} else {
		dst = image.NewNRGBA(bounds)
	}
	p.filters.Draw(dst, out)
	return dst
}
