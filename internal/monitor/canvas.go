package monitor

import (
	"math"
	"strings"
)

// Braille cells hold a 2x4 dot grid:
// 1 4
// 2 5
// 3 6
// 7 8
var dotMask = [4][2]rune{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

const brailleBlank = 0x2800

// Canvas is a braille raster addressed in sub-cell dots.
type Canvas struct {
	Width, Height int
	grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{Width: w, Height: h, grid: make([][]rune, h)}
	for i := range c.grid {
		c.grid[i] = make([]rune, w)
	}
	c.Clear()
	return c
}

// Dots reports the raster size in dots.
func (c *Canvas) Dots() (int, int) { return c.Width * 2, c.Height * 4 }

func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.Width || row >= c.Height {
		return
	}
	c.grid[row][col] |= dotMask[y%4][x%2]
}

func (c *Canvas) Clear() {
	for i := range c.grid {
		for j := range c.grid[i] {
			c.grid[i][j] = brailleBlank
		}
	}
}

// Line draws with Bresenham's algorithm.
func (c *Canvas) Line(x0, y0, x1, y1 int) {
	dx, dy := absInt(x1-x0), absInt(y1-y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.grid {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// viewport maps world metres onto canvas dots with y pointing up.
type viewport struct {
	minX, minY float64
	scale      float64
	dotsH      int
}

// fit frames every point with a margin and one scale for both axes;
// braille dots are close to square on a typical terminal font.
func fit(c *Canvas, pts [][2]float64, margin float64) viewport {
	w, h := c.Dots()
	if len(pts) == 0 {
		return viewport{scale: 1, dotsH: h}
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p[0]), math.Max(maxX, p[0])
		minY, maxY = math.Min(minY, p[1]), math.Max(maxY, p[1])
	}
	minX, minY = minX-margin, minY-margin
	spanX := math.Max(maxX+margin-minX, 1e-3)
	spanY := math.Max(maxY+margin-minY, 1e-3)
	scale := math.Min(float64(w)/spanX, float64(h)/spanY)
	return viewport{minX: minX, minY: minY, scale: scale, dotsH: h}
}

func (v viewport) dot(x, y float64) (int, int) {
	px := int((x - v.minX) * v.scale)
	py := v.dotsH - 1 - int((y-v.minY)*v.scale)
	return px, py
}
