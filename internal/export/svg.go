package export

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/san-kum/vehsim/internal/scene"
)

var coneColors = map[scene.ConeKind]string{
	scene.ConeBlue:      "#3b82f6",
	scene.ConeYellow:    "#facc15",
	scene.ConeOrange:    "#f97316",
	scene.ConeBigOrange: "#ea580c",
}

// Point is a planar position in metres.
type Point struct{ X, Y float64 }

// frame maps world metres onto an SVG canvas with y pointing up and one
// scale for both axes.
type frame struct {
	minX, minY float64
	scale      float64
	height     int
}

func newFrame(points []Point, cones []scene.Cone, width, height int) frame {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	grow := func(x, y float64) {
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	for _, p := range points {
		grow(p.X, p.Y)
	}
	for _, c := range cones {
		grow(c.X, c.Y)
	}

	// Add padding
	rangeX := math.Max(maxX-minX, 1)
	rangeY := math.Max(maxY-minY, 1)
	minX -= rangeX * 0.05
	minY -= rangeY * 0.05
	rangeX *= 1.1
	rangeY *= 1.1

	return frame{
		minX:   minX,
		minY:   minY,
		scale:  math.Min(float64(width)/rangeX, float64(height)/rangeY),
		height: height,
	}
}

func (f frame) at(x, y float64) (float64, float64) {
	return (x - f.minX) * f.scale, float64(f.height) - (y-f.minY)*f.scale
}

// TrajectorySVG draws the driven path over the track cones.
func TrajectorySVG(w io.Writer, points []Point, cones []scene.Cone, width, height int) error {
	if len(points) < 2 && len(cones) == 0 {
		return fmt.Errorf("nothing to draw")
	}
	f := newFrame(points, cones, width, height)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`, width, height, width, height))

	for _, c := range cones {
		x, y := f.at(c.X, c.Y)
		r := 3.0
		if c.Kind == scene.ConeBigOrange {
			r = 4.5
		}
		color, ok := coneColors[c.Kind]
		if !ok {
			color = coneColors[scene.ConeBlue]
		}
		sb.WriteString(fmt.Sprintf(`<circle cx="%.1f" cy="%.1f" r="%.1f" fill="%s"/>
`, x, y, r, color))
	}

	if len(points) >= 2 {
		sb.WriteString(`<path fill="none" stroke="#00ff00" stroke-width="1.5" d="M`)
		for i, p := range points {
			x, y := f.at(p.X, p.Y)
			if i == 0 {
				sb.WriteString(fmt.Sprintf("%.1f,%.1f", x, y))
			} else {
				sb.WriteString(fmt.Sprintf(" L%.1f,%.1f", x, y))
			}
		}
		sb.WriteString(`"/>
`)
	}

	sb.WriteString("</svg>\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
