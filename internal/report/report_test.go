package report

import (
	"bytes"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/roomscan/internal/cloud"
	"github.com/banshee-data/roomscan/internal/pipeline"
	"github.com/banshee-data/roomscan/internal/reconstruct"
	"github.com/banshee-data/roomscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeighborHistogram(t *testing.T) {
	dists := make([]float64, 500)
	for i := range dists {
		dists[i] = 0.02 + 0.0001*float64(i%50)
	}
	dists[499] = 0.5
	res := &cloud.OutlierResult{MeanDistances: dists, Mean: 0.0235, Cutoff: 0.05, Removed: 1}

	path := testutil.TempPath(t, "neighbors.png")
	require.NoError(t, NeighborHistogram(path, res))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "not a PNG")
}

func TestNeighborHistogram_Empty(t *testing.T) {
	assert.Error(t, NeighborHistogram(testutil.TempPath(t, "x.png"), nil))
	assert.Error(t, NeighborHistogram(testutil.TempPath(t, "x.png"), &cloud.OutlierResult{}))
}

func sampleResult() *pipeline.Result {
	return &pipeline.Result{
		State: reconstruct.PoissonSucceeded,
		Mesh:  testutil.UVSphere(1, 4, 6),
		Stages: []pipeline.StageStats{
			{Name: pipeline.StageOutliers, Input: 1000, Output: 990, Duration: 12 * time.Millisecond},
			{Name: pipeline.StageDownsample, Input: 990, Output: 990},
			{Name: pipeline.StageNormals, Input: 990, Output: 990, Duration: 30 * time.Millisecond},
			{Name: pipeline.StageReconstruct, Input: 990, Output: 5000, Duration: time.Second},
		},
		Warnings: []string{"normals: 3 points had degenerate neighborhoods"},
	}
}

func TestSummaryFromResult(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := SummaryFromResult("living-room", created, sampleResult())

	assert.Equal(t, "poisson_succeeded", s.State)
	assert.Equal(t, 2*6*3, s.Triangles)
	assert.Len(t, s.Stages, 4)
	assert.Len(t, s.Warnings, 1)

	noMesh := sampleResult()
	noMesh.Mesh = nil
	assert.Zero(t, SummaryFromResult("x", created, noMesh).Triangles)
}

func TestDashboard(t *testing.T) {
	s := SummaryFromResult("living-room", time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), sampleResult())

	var buf bytes.Buffer
	require.NoError(t, Dashboard(&buf, s))
	html := buf.String()
	for _, want := range []string{"Stage counts", "Stage durations", "outliers", "reconstruct", "poisson_succeeded"} {
		assert.True(t, strings.Contains(html, want), "dashboard missing %q", want)
	}
}

func TestDashboard_NoStages(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Dashboard(&buf, Summary{Name: "empty"}))
}

func TestWriteDashboard(t *testing.T) {
	path := testutil.TempPath(t, "run.html")
	require.NoError(t, WriteDashboard(path, SummaryFromResult("r", time.Time{}, sampleResult())))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestStagePalette(t *testing.T) {
	p := stagePalette(6)
	require.Len(t, p, 6)
	seen := map[string]bool{}
	for _, c := range p {
		assert.True(t, strings.HasPrefix(c, "#") && len(c) == 7, "bad color %q", c)
		seen[c] = true
	}
	assert.Len(t, seen, 6)
}
