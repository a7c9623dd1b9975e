// Package report renders run diagnostics: a neighbor-distance histogram
// image and an HTML dashboard of the pipeline stages.
package report

import (
	"fmt"
	"image/color"
	"math"
	"sort"

	"github.com/banshee-data/roomscan/internal/cloud"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// histogramBins is the bar count of the neighbor distance histogram.
const histogramBins = 60

var (
	barColor    = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	meanColor   = color.RGBA{R: 53, G: 183, B: 121, A: 255}
	cutoffColor = color.RGBA{R: 220, G: 50, B: 47, A: 255}
)

// NeighborHistogram plots the distribution of per-point mean neighbor
// distances from the outlier stage, marking the mean and the rejection
// cutoff, and saves it to path. The image format follows the extension.
func NeighborHistogram(path string, res *cloud.OutlierResult) error {
	if res == nil || len(res.MeanDistances) == 0 {
		return fmt.Errorf("neighbor histogram: no distances")
	}

	sorted := append([]float64(nil), res.MeanDistances...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Mean neighbor distance (n=%d, removed=%d, median=%.4f)",
		len(sorted), res.Removed, median)
	p.X.Label.Text = "Distance (m)"
	p.Y.Label.Text = "Points"

	hist, err := plotter.NewHist(plotter.Values(sorted), histogramBins)
	if err != nil {
		return fmt.Errorf("neighbor histogram: %w", err)
	}
	hist.FillColor = barColor
	hist.LineStyle.Width = vg.Length(0)
	p.Add(hist)

	peak := 0.0
	for _, b := range hist.Bins {
		peak = math.Max(peak, b.Weight)
	}
	for _, marker := range []struct {
		label string
		x     float64
		c     color.Color
	}{
		{"mean", res.Mean, meanColor},
		{"cutoff", res.Cutoff, cutoffColor},
	} {
		line, err := plotter.NewLine(plotter.XYs{{X: marker.x, Y: 0}, {X: marker.x, Y: peak}})
		if err != nil {
			return fmt.Errorf("neighbor histogram %s: %w", marker.label, err)
		}
		line.Color = marker.c
		line.Width = vg.Points(1.5)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s %.4f", marker.label, marker.x), line)
	}
	p.Legend.Top = true
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
