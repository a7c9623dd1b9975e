package cloud

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/banshee-data/roomscan/internal/parallel"
	"github.com/banshee-data/roomscan/internal/spatial"
	"gonum.org/v1/gonum/stat"
)

// Default outlier filter parameters.
const (
	DefaultOutlierNeighbors = 20
	DefaultOutlierStdRatio  = 2.0
)

// sigmaEpsilon is the relative spread below which a cloud is treated as
// perfectly uniform.
const sigmaEpsilon = 1e-12

// OutlierParams controls statistical outlier rejection.
type OutlierParams struct {
	Neighbors int     // k nearest neighbors averaged per point
	StdRatio  float64 // reject beyond mean + StdRatio * std
}

// DefaultOutlierParams returns the default filter parameters.
func DefaultOutlierParams() OutlierParams {
	return OutlierParams{
		Neighbors: DefaultOutlierNeighbors,
		StdRatio:  DefaultOutlierStdRatio,
	}
}

// Validate checks the parameter ranges.
func (p OutlierParams) Validate() error {
	if p.Neighbors < 1 {
		return fmt.Errorf("%w: outlier neighbors must be positive, got %d", geometry.ErrInvalidParams, p.Neighbors)
	}
	if p.StdRatio <= 0 {
		return fmt.Errorf("%w: outlier std ratio must be positive, got %.2f", geometry.ErrInvalidParams, p.StdRatio)
	}
	return nil
}

// OutlierResult is the output of RemoveStatisticalOutliers.
type OutlierResult struct {
	Cloud *geometry.PointCloud

	// Removed is the number of rejected points.
	Removed int

	// MeanDistances holds each input point's mean neighbor distance.
	MeanDistances []float64
	Mean          float64
	StdDev        float64
	Cutoff        float64
}

// RemoveStatisticalOutliers rejects every point whose mean distance to its
// k nearest neighbors exceeds the cloud-wide mean by more than StdRatio
// standard deviations. Retained points keep their relative order.
func RemoveStatisticalOutliers(ctx context.Context, pc *geometry.PointCloud, params OutlierParams) (*OutlierResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if pc.Len() < params.Neighbors+1 {
		return nil, fmt.Errorf("outlier filter needs %d points, got %d: %w",
			params.Neighbors+1, pc.Len(), geometry.ErrInsufficientPoints)
	}

	idx, err := spatial.Build(pc.Points)
	if err != nil {
		return nil, err
	}

	meanDists := make([]float64, pc.Len())
	err = parallel.For(ctx, pc.Len(), func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			d := idx.NearestDistances(i, params.Neighbors)
			var sum float64
			for _, v := range d {
				sum += v
			}
			meanDists[i] = sum / float64(len(d))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("outlier neighbor distances: %w", err)
	}

	mean, std := stat.MeanStdDev(meanDists, nil)
	res := &OutlierResult{MeanDistances: meanDists, Mean: mean, StdDev: std}

	if std <= sigmaEpsilon*math.Max(1, mean) {
		res.Cutoff = mean
		res.Cloud = pc.Clone()
		return res, nil
	}

	res.Cutoff = mean + params.StdRatio*std
	keep := make([]int, 0, pc.Len())
	for i, d := range meanDists {
		if d <= res.Cutoff {
			keep = append(keep, i)
		}
	}
	res.Cloud = pc.Subset(keep)
	res.Removed = pc.Len() - len(keep)
	return res, nil
}
