package synthetic

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"
	"strings"

	"github.com/e7canasta/still-capture/internal/media"
)

const (
	defaultWidth  = 320
	defaultHeight = 240
	jpegQuality   = 85

	// videotestsrc pattern values rendered as solid fills; anything else
	// renders bars.
	patternBlack = 2
	patternWhite = 3
)

// smpteBars are the seven 75% color bars of the classic test card.
var smpteBars = []color.RGBA{
	{191, 191, 191, 255},
	{191, 191, 0, 255},
	{0, 191, 191, 255},
	{0, 191, 0, 255},
	{191, 0, 191, 255},
	{191, 0, 0, 255},
	{0, 0, 191, 255},
}

type frame struct {
	width   int
	height  int
	seq     uint64
	pattern int

	// data is packed RGB until encoded, JPEG afterwards.
	data    []byte
	encoded bool
}

// render fills data with packed RGB if nothing upstream produced it yet.
func (f *frame) render() {
	if f.data != nil {
		return
	}
	f.data = make([]byte, f.width*f.height*3)

	switch f.pattern {
	case patternBlack:
		return
	case patternWhite:
		for i := range f.data {
			f.data[i] = 255
		}
		return
	}

	// Bars scroll one column per frame so consecutive frames differ.
	shift := int(f.seq % uint64(f.width))
	barWidth := (f.width + len(smpteBars) - 1) / len(smpteBars)
	for y := 0; y < f.height; y++ {
		row := f.data[y*f.width*3 : (y+1)*f.width*3]
		for x := 0; x < f.width; x++ {
			c := smpteBars[((x+shift)%f.width)/barWidth]
			row[x*3] = c.R
			row[x*3+1] = c.G
			row[x*3+2] = c.B
		}
	}
}

func (f *frame) encodeJPEG() error {
	f.render()
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	for i, j := 0, 0; i < len(f.data); i, j = i+3, j+4 {
		img.Pix[j] = f.data[i]
		img.Pix[j+1] = f.data[i+1]
		img.Pix[j+2] = f.data[i+2]
		img.Pix[j+3] = 255
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return err
	}
	f.data = buf.Bytes()
	f.encoded = true
	return nil
}

// parseSize extracts width and height fields from a caps description.
func parseSize(caps media.Caps) (width, height int, ok bool) {
	for _, field := range strings.Split(string(caps), ",") {
		key, value, found := strings.Cut(strings.TrimSpace(field), "=")
		if !found {
			continue
		}
		// Typed fields look like "width=(int)640".
		value = strings.TrimPrefix(value, "(int)")
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			continue
		}
		switch key {
		case "width":
			width = n
		case "height":
			height = n
		}
	}
	return width, height, width > 0 && height > 0
}
