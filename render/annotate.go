package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/dooh-web/landmark-detector/models"
)

const (
	captionHeight  = 20
	captionPadding = 4
	crosshairArm   = 40
	panelWidth     = 300
	panelHeight    = 60
	panelGap       = 20
	pulseMinRadius = 30
	pulseRadius    = 20
)

var face = basicfont.Face7x13

// Annotate draws boxes and captions for dets on a copy of img and, when the
// style enables it, the AR marker on the first detection. Detection
// coordinates are relative to the image origin.
func Annotate(img image.Image, dets []models.Detection, labels Labels, style Style) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	for _, d := range dets {
		r := boxRect(d)
		strokeRect(dst, r, style.BoxWidth, style.Box)
		drawCaption(dst, r, labels.Caption(d), style)
	}

	if style.Overlay && len(dets) > 0 {
		drawMarker(dst, dets[0], labels, style)
	}
	return dst
}

func boxRect(d models.Detection) image.Rectangle {
	return image.Rect(
		int(math.Round(d.X1)), int(math.Round(d.Y1)),
		int(math.Round(d.X2)), int(math.Round(d.Y2)),
	)
}

func fillRect(dst draw.Image, r image.Rectangle, c color.NRGBA) {
	op := draw.Over
	if c.A == 255 {
		op = draw.Src
	}
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, op)
}

// strokeRect draws the outline of r inward with the given width.
func strokeRect(dst draw.Image, r image.Rectangle, width int, c color.NRGBA) {
	if width <= 0 || r.Empty() {
		return
	}
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func hline(dst draw.Image, x0, x1, y, width int, c color.NRGBA) {
	fillRect(dst, image.Rect(x0, y-width/2, x1, y-width/2+width), c)
}

func vline(dst draw.Image, x, y0, y1, width int, c color.NRGBA) {
	fillRect(dst, image.Rect(x-width/2, y0, x-width/2+width, y1), c)
}

func textWidth(s string) int {
	return font.MeasureString(face, s).Ceil()
}

func drawText(dst draw.Image, x, baseline int, s string, c color.NRGBA) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(baseline)},
	}
	d.DrawString(s)
}

// drawCaption puts the caption on a box-colored band above r, or inside the
// top of r when there is no room above.
func drawCaption(dst draw.Image, r image.Rectangle, caption string, style Style) {
	top := r.Min.Y - captionHeight
	if top < dst.Bounds().Min.Y {
		top = r.Min.Y
	}
	band := image.Rect(r.Min.X, top, r.Min.X+textWidth(caption)+2*captionPadding, top+captionHeight)
	fillRect(dst, band, style.Box)
	drawText(dst, band.Min.X+captionPadding, band.Max.Y-captionPadding, caption, style.Caption)
}

// pulse maps phase onto [0,1].
func pulse(phase float64) float64 {
	return math.Sin(phase)*0.5 + 0.5
}

func markerRadius(phase float64) float64 {
	return pulseMinRadius + pulse(phase)*pulseRadius
}

func drawMarker(dst draw.Image, d models.Detection, labels Labels, style Style) {
	r := boxRect(d)
	cx, cy := d.Center()
	x, y := int(math.Round(cx)), int(math.Round(cy))

	p := pulse(style.Phase)
	fill := style.Highlight
	fill.A = uint8(math.Round(float64(style.Highlight.A) * (0.3 + 0.3*p)))
	fillCircle(dst, x, y, markerRadius(style.Phase), fill)

	hline(dst, x-crosshairArm, x+crosshairArm, y, style.CrosshairWidth, style.Highlight)
	vline(dst, x, y-crosshairArm, y+crosshairArm, style.CrosshairWidth, style.Highlight)

	drawPanel(dst, d, x, r.Min.Y, labels, style)
	drawBrackets(dst, r, style)
}

func drawPanel(dst draw.Image, d models.Detection, cx, top int, labels Labels, style Style) {
	panel := image.Rect(cx-panelWidth/2, top-panelGap-panelHeight, cx+panelWidth/2, top-panelGap)
	fillRect(dst, panel, style.Panel)
	strokeRect(dst, panel, style.PanelBorder, style.Highlight)

	title := style.Title
	if title == "" {
		title = labels.Label(d.ClassID)
	}
	drawText(dst, cx-textWidth(title)/2, panel.Min.Y+28, title, style.Highlight)

	conf := confidenceLine(d)
	drawText(dst, cx-textWidth(conf)/2, panel.Min.Y+48, conf, style.Highlight)
}

func confidenceLine(d models.Detection) string {
	return "Confidence: " + formatPercent(d.Confidence)
}

func drawBrackets(dst draw.Image, r image.Rectangle, style Style) {
	size, w, c := style.BracketSize, style.BracketWidth, style.Highlight
	if size <= 0 || w <= 0 {
		return
	}
	// top-left
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+size, r.Min.Y+w), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+w, r.Min.Y+size), c)
	// top-right
	fillRect(dst, image.Rect(r.Max.X-size, r.Min.Y, r.Max.X, r.Min.Y+w), c)
	fillRect(dst, image.Rect(r.Max.X-w, r.Min.Y, r.Max.X, r.Min.Y+size), c)
	// bottom-left
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-w, r.Min.X+size, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-size, r.Min.X+w, r.Max.Y), c)
	// bottom-right
	fillRect(dst, image.Rect(r.Max.X-size, r.Max.Y-w, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Max.X-w, r.Max.Y-size, r.Max.X, r.Max.Y), c)
}

// disc is an alpha mask covering a circle.
type disc struct {
	cx, cy int
	r      float64
}

func (d *disc) ColorModel() color.Model { return color.AlphaModel }

func (d *disc) Bounds() image.Rectangle {
	r := int(math.Ceil(d.r))
	return image.Rect(d.cx-r, d.cy-r, d.cx+r+1, d.cy+r+1)
}

func (d *disc) At(x, y int) color.Color {
	dx, dy := float64(x-d.cx), float64(y-d.cy)
	if dx*dx+dy*dy <= d.r*d.r {
		return color.Alpha{A: 255}
	}
	return color.Alpha{}
}

func fillCircle(dst draw.Image, cx, cy int, radius float64, c color.NRGBA) {
	mask := &disc{cx: cx, cy: cy, r: radius}
	draw.DrawMask(dst, mask.Bounds(), image.NewUniform(c), image.Point{}, mask, mask.Bounds().Min, draw.Over)
}
