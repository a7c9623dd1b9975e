package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/roomscan/internal/pipeline"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/lucasb-eyer/go-colorful"
)

// Summary is the part of a run the dashboard shows.
type Summary struct {
	Name      string
	State     string
	CreatedAt time.Time
	Stages    []pipeline.StageStats
	Warnings  []string
	Triangles int
}

// SummaryFromResult extracts a Summary from a finished run.
func SummaryFromResult(name string, createdAt time.Time, res *pipeline.Result) Summary {
	s := Summary{
		Name:      name,
		State:     res.State.String(),
		CreatedAt: createdAt,
		Stages:    res.Stages,
		Warnings:  res.Warnings,
	}
	if res.HasMesh() {
		s.Triangles = res.Mesh.TriangleCount()
	}
	return s
}

// stagePalette returns n evenly spaced hues as hex colors.
func stagePalette(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = colorful.Hcl(360*float64(i)/float64(max(n, 1)), 0.5, 0.6).Clamped().Hex()
	}
	return out
}

// Dashboard renders an HTML page with per-stage counts and durations.
func Dashboard(w io.Writer, s Summary) error {
	if len(s.Stages) == 0 {
		return fmt.Errorf("dashboard: run %q has no stages", s.Name)
	}

	names := make([]string, len(s.Stages))
	inputs := make([]opts.BarData, len(s.Stages))
	outputs := make([]opts.BarData, len(s.Stages))
	durations := make([]opts.BarData, len(s.Stages))
	palette := stagePalette(len(s.Stages))
	for i, st := range s.Stages {
		names[i] = st.Name
		inputs[i] = opts.BarData{Value: st.Input}
		outputs[i] = opts.BarData{Value: st.Output}
		durations[i] = opts.BarData{
			Value:     float64(st.Duration.Microseconds()) / 1000,
			ItemStyle: &opts.ItemStyle{Color: palette[i]},
		}
	}

	subtitle := fmt.Sprintf("state=%s triangles=%d warnings=%d", s.State, s.Triangles, len(s.Warnings))
	if !s.CreatedAt.IsZero() {
		subtitle += " " + s.CreatedAt.UTC().Format(time.RFC3339)
	}

	counts := charts.NewBar()
	counts.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Room scan " + s.Name, Width: "100%", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: "Stage counts", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "points / triangles"}),
	)
	counts.SetXAxis(names).
		AddSeries("input", inputs).
		AddSeries("output", outputs,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	timing := charts.NewBar()
	timing.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Stage durations"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	timing.SetXAxis(names).AddSeries("duration", durations)

	page := components.NewPage()
	page.AddCharts(counts, timing)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return fmt.Errorf("render dashboard: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteDashboard renders the dashboard into the file at path.
func WriteDashboard(path string, s Summary) error {
	var buf bytes.Buffer
	if err := Dashboard(&buf, s); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write dashboard: %w", err)
	}
	return nil
}
