package capture

import (
	"bytes"
	"image"
	"image/jpeg"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

type WebcamConfig struct {
	Device string
	// Format is "YUYV", "MJPEG" or empty for the first supported one.
	Format string
	// Size is WIDTHxHEIGHT or empty for the largest the device offers.
	Size string
	FPS  float64
}

// V4L2 fourcc codes.
const (
	fourccYUYV  uint32 = 0x56595559
	fourccMJPEG uint32 = 0x47504a4d
)

var fourccNames = map[string]uint32{
	"YUYV":  fourccYUYV,
	"MJPEG": fourccMJPEG,
}

func parseSize(s string) (int, int, error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 2 {
		return 0, 0, xerrors.Errorf("invalid frame size %q, want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, xerrors.Errorf("invalid frame width %q: %w", parts[0], err)
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, xerrors.Errorf("invalid frame height %q: %w", parts[1], err)
	}
	if width <= 0 || height <= 0 {
		return 0, 0, xerrors.Errorf("invalid frame size %q", s)
	}
	return width, height, nil
}

// decodeFrame turns a raw device buffer into an image that owns its memory.
func decodeFrame(frame []byte, fourcc uint32, width int, height int) (image.Image, error) {
	switch fourcc {
	case fourccYUYV:
		return decodeYUYV(frame, width, height)
	case fourccMJPEG:
		img, err := jpeg.Decode(bytes.NewReader(addMotionDHT(frame)))
		if err != nil {
			return nil, xerrors.Errorf("failed to decode MJPEG frame: %w", err)
		}
		return img, nil
	default:
		return nil, xerrors.Errorf("unsupported pixel format %#x", fourcc)
	}
}

// decodeYUYV unpacks packed 4:2:2 Y0 Cb Y1 Cr quadruplets.
func decodeYUYV(frame []byte, width int, height int) (*image.YCbCr, error) {
	if width%2 != 0 || len(frame) < width*height*2 {
		return nil, xerrors.Errorf("YUYV frame of %d bytes does not fit %dx%d", len(frame), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		src := frame[y*width*2 : (y+1)*width*2]
		for x := 0; x < width/2; x++ {
			q := src[x*4 : x*4+4]
			img.Y[y*img.YStride+x*2] = q[0]
			img.Y[y*img.YStride+x*2+1] = q[2]
			img.Cb[y*img.CStride+x] = q[1]
			img.Cr[y*img.CStride+x] = q[3]
		}
	}
	return img, nil
}

// MJPEG frames from UVC cameras omit the Huffman tables; the standard ones
// from the JPEG standard are inserted before the start of scan.
func addMotionDHT(frame []byte) []byte {
	sos := []byte{0xff, 0xda}
	if bytes.Contains(frame, []byte{0xff, 0xc4}) {
		return frame
	}
	i := bytes.Index(frame, sos)
	if i < 0 {
		return frame
	}

	out := make([]byte, 0, len(frame)+len(dhtMarker)+len(dht))
	out = append(out, frame[:i]...)
	out = append(out, dhtMarker...)
	out = append(out, dht...)
	out = append(out, frame[i:]...)
	return out
}

var (
	dhtMarker = []byte{255, 196}
	dht       = []byte{1, 162, 0, 0, 1, 5, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 1, 0, 3, 1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 16, 0, 2, 1, 3, 3, 2, 4, 3, 5, 5, 4, 4, 0, 0, 1, 125, 1, 2, 3, 0, 4, 17, 5, 18, 33, 49, 65, 6, 19, 81, 97, 7, 34, 113, 20, 50, 129, 145, 161, 8, 35, 66, 177, 193, 21, 82, 209, 240, 36, 51, 98, 114, 130, 9, 10, 22, 23, 24, 25, 26, 37, 38, 39, 40, 41, 42, 52, 53, 54, 55, 56, 57, 58, 67, 68, 69, 70, 71, 72, 73, 74, 83, 84, 85, 86, 87, 88, 89, 90, 99, 100, 101, 102, 103, 104, 105, 106, 115, 116, 117, 118, 119, 120, 121, 122, 131, 132, 133, 134, 135, 136, 137, 138, 146, 147, 148, 149, 150, 151, 152, 153, 154, 162, 163, 164, 165, 166, 167, 168, 169, 170, 178, 179, 180, 181, 182, 183, 184, 185, 186, 194, 195, 196, 197, 198, 199, 200, 201, 202, 210, 211, 212, 213, 214, 215, 216, 217, 218, 225, 226, 227, 228, 229, 230, 231, 232, 233, 234, 241, 242, 243, 244, 245, 246, 247, 248, 249, 250, 17, 0, 2, 1, 2, 4, 4, 3, 4, 7, 5, 4, 4, 0, 1, 2, 119, 0, 1, 2, 3, 17, 4, 5, 33, 49, 6, 18, 65, 81, 7, 97, 113, 19, 34, 50, 129, 8, 20, 66, 145, 161, 177, 193, 9, 35, 51, 82, 240, 21, 98, 114, 209, 10, 22, 36, 52, 225, 37, 241, 23, 24, 25, 26, 38, 39, 40, 41, 42, 53, 54, 55, 56, 57, 58, 67, 68, 69, 70, 71, 72, 73, 74, 83, 84, 85, 86, 87, 88, 89, 90, 99, 100, 101, 102, 103, 104, 105, 106, 115, 116, 117, 118, 119, 120, 121, 122, 130, 131, 132, 133, 134, 135, 136, 137, 138, 146, 147, 148, 149, 150, 151, 152, 153, 154, 162, 163, 164, 165, 166, 167, 168, 169, 170, 178, 179, 180, 181, 182, 183, 184, 185, 186, 194, 195, 196, 197, 198, 199, 200, 201, 202, 210, 211, 212, 213, 214, 215, 216, 217, 218, 226, 227, 228, 229, 230, 231, 232, 233, 234, 242, 243, 244, 245, 246, 247, 248, 249, 250}
)
