package mockcam

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"
)

var (
	cloakBlue  = color.RGBA{R: 30, G: 60, B: 200, A: 255}
	personGrey = color.RGBA{R: 150, G: 130, B: 120, A: 255}
	markerRed  = color.RGBA{R: 220, G: 20, B: 20, A: 255}
	offBg      = color.RGBA{R: 16, G: 16, B: 16, A: 255}
	offStroke  = color.RGBA{R: 240, G: 240, B: 240, A: 255}
)

// Scene synthesizes camera frames: a static room with a person wearing a
// blue cloak drifting left and right.
type Scene struct {
	W, H int
	room *image.RGBA
}

func NewScene(w, h int) *Scene {
	room := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			room.SetRGBA(x, y, color.RGBA{
				R: uint8(60 + 120*x/w),
				G: uint8(90 + 100*y/h),
				B: uint8(70),
				A: 255,
			})
		}
	}
	// A window and a shelf so a captured background is recognisable.
	draw.Draw(room, image.Rect(w/10, h/8, w/3, h/2), image.NewUniform(color.RGBA{R: 200, G: 220, B: 240, A: 255}), image.Point{}, draw.Src)
	draw.Draw(room, image.Rect(w/2, h*2/3, w*9/10, h*2/3+h/40+1), image.NewUniform(color.RGBA{R: 90, G: 60, B: 30, A: 255}), image.Point{}, draw.Src)
	return &Scene{W: w, H: h, room: room}
}

// Subject returns the person's bounding box at elapsed time t.
func (s *Scene) Subject(t time.Duration) image.Rectangle {
	bw, bh := s.W/5, s.H*3/5
	travel := float64(s.W - bw)
	x := int(travel/2 + travel/2*math.Sin(t.Seconds()*0.8))
	y := s.H - bh
	return image.Rect(x, y, x+bw, y+bh)
}

// Render draws the raw frame at elapsed time t.
func (s *Scene) Render(t time.Duration) *image.RGBA {
	img := image.NewRGBA(s.room.Bounds())
	copy(img.Pix, s.room.Pix)

	body := s.Subject(t)
	draw.Draw(img, body, image.NewUniform(personGrey), image.Point{}, draw.Src)
	// The head stays uncovered: the cloak starts a quarter down the body.
	cloak := image.Rect(body.Min.X, body.Min.Y+body.Dy()/4, body.Max.X, body.Max.Y)
	draw.Draw(img, cloak.Intersect(img.Bounds()), image.NewUniform(cloakBlue), image.Point{}, draw.Src)
	return img
}

// IsCloak reports whether c falls in the cloak's color range.
func IsCloak(c color.RGBA) bool {
	return c.B > 120 && int(c.B) > int(c.R)+60 && int(c.B) > int(c.G)+60
}

// Composite returns frame with every cloak pixel replaced by the
// background pixel at the same position. frame is modified in place.
func Composite(frame, background *image.RGBA) *image.RGBA {
	if background == nil || background.Bounds() != frame.Bounds() {
		return frame
	}
	for i := 0; i+3 < len(frame.Pix); i += 4 {
		px := color.RGBA{R: frame.Pix[i], G: frame.Pix[i+1], B: frame.Pix[i+2], A: frame.Pix[i+3]}
		if IsCloak(px) {
			copy(frame.Pix[i:i+4], background.Pix[i:i+4])
		}
	}
	return frame
}

// MarkNoBackground stamps a red bar in the top-left corner, shown until
// a background has been captured.
func MarkNoBackground(frame *image.RGBA) {
	b := frame.Bounds()
	bar := image.Rect(b.Min.X+8, b.Min.Y+8, b.Min.X+8+b.Dx()/4, b.Min.Y+8+max(b.Dy()/30, 4))
	draw.Draw(frame, bar.Intersect(b), image.NewUniform(markerRed), image.Point{}, draw.Src)
}

// OffFrame draws the camera-off card: a dark frame with a crossed-out
// lens outline.
func OffFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(offBg), image.Point{}, draw.Src)
	cx, cy, r := w/2, h/2, min(w, h)/6
	for a := 0.0; a < 2*math.Pi; a += 1.0 / float64(r) {
		img.SetRGBA(cx+int(float64(r)*math.Cos(a)), cy+int(float64(r)*math.Sin(a)), offStroke)
	}
	for d := -r; d <= r; d++ {
		img.SetRGBA(cx+d, cy+d, offStroke)
	}
	return img
}
