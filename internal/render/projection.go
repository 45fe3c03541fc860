package render

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/cwbudde/polywalk/internal/walk"
)

// DefaultSize is the width and height of saved plots.
const DefaultSize = 6 * vg.Inch

// ErrNoWaypoints is returned when there is nothing to plot.
var ErrNoWaypoints = errors.New("no waypoints to plot")

var (
	pathColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	targetColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	startColor  = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	boxColor    = color.Gray{Y: 128}
)

// Projection plots a trajectory onto two joint coordinates.
type Projection struct {
	X, Y  int
	Title string

	// Lower and Upper optionally outline the region's bounding box
	Lower, Upper []float64
}

// Plot builds the chart: the interpolated path as a line, the start point
// and every step target as markers.
func (p Projection) Plot(waypoints []walk.Waypoint) (*plot.Plot, error) {
	if len(waypoints) == 0 {
		return nil, ErrNoWaypoints
	}
	if err := p.validate(len(waypoints[0].Q)); err != nil {
		return nil, err
	}

	path := make(plotter.XYs, len(waypoints))
	var targets plotter.XYs
	for i, wp := range waypoints {
		path[i].X, path[i].Y = wp.Q[p.X], wp.Q[p.Y]
		if wp.T == 1 {
			targets = append(targets, path[i])
		}
	}

	pl := plot.New()
	pl.Title.Text = p.Title
	pl.X.Label.Text = fmt.Sprintf("q[%d]", p.X)
	pl.Y.Label.Text = fmt.Sprintf("q[%d]", p.Y)
	pl.Add(plotter.NewGrid())

	if len(p.Lower) > 0 && len(p.Upper) > 0 {
		outline, err := plotter.NewLine(plotter.XYs{
			{X: p.Lower[p.X], Y: p.Lower[p.Y]},
			{X: p.Upper[p.X], Y: p.Lower[p.Y]},
			{X: p.Upper[p.X], Y: p.Upper[p.Y]},
			{X: p.Lower[p.X], Y: p.Upper[p.Y]},
			{X: p.Lower[p.X], Y: p.Lower[p.Y]},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build bounding box: %w", err)
		}
		outline.LineStyle.Color = boxColor
		outline.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		pl.Add(outline)
		pl.Legend.Add("bounding box", outline)
	}

	line, err := plotter.NewLine(path)
	if err != nil {
		return nil, fmt.Errorf("failed to build path: %w", err)
	}
	line.LineStyle.Color = pathColor
	line.LineStyle.Width = vg.Points(1)
	pl.Add(line)
	pl.Legend.Add("path", line)

	start, err := plotter.NewScatter(path[:1])
	if err != nil {
		return nil, fmt.Errorf("failed to build start marker: %w", err)
	}
	start.GlyphStyle.Color = startColor
	start.GlyphStyle.Shape = draw.BoxGlyph{}
	start.GlyphStyle.Radius = vg.Points(4)
	pl.Add(start)
	pl.Legend.Add("start", start)

	if len(targets) > 0 {
		scatter, err := plotter.NewScatter(targets)
		if err != nil {
			return nil, fmt.Errorf("failed to build targets: %w", err)
		}
		scatter.GlyphStyle.Color = targetColor
		scatter.GlyphStyle.Shape = draw.CircleGlyph{}
		scatter.GlyphStyle.Radius = vg.Points(2.5)
		pl.Add(scatter)
		pl.Legend.Add("targets", scatter)
	}

	return pl, nil
}

func (p Projection) validate(dim int) error {
	if p.X < 0 || p.X >= dim || p.Y < 0 || p.Y >= dim {
		return fmt.Errorf("projection axes (%d, %d) out of range for dimension %d", p.X, p.Y, dim)
	}
	if p.X == p.Y {
		return fmt.Errorf("projection axes must differ, got %d twice", p.X)
	}
	if len(p.Lower) > 0 || len(p.Upper) > 0 {
		if len(p.Lower) != dim || len(p.Upper) != dim {
			return fmt.Errorf("bounding box must have %d coordinates", dim)
		}
	}
	return nil
}

// WritePNG renders the chart as PNG.
func (p Projection) WritePNG(w io.Writer, waypoints []walk.Waypoint, width, height vg.Length) error {
	pl, err := p.Plot(waypoints)
	if err != nil {
		return err
	}
	wt, err := pl.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("failed to create png canvas: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// SavePNG writes a DefaultSize PNG to path.
func (p Projection) SavePNG(path string, waypoints []walk.Waypoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	if err := p.WritePNG(f, waypoints, DefaultSize, DefaultSize); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
