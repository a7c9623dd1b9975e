// Package cloud owns the point-cloud conditioning stages of the
// reconstruction pipeline.
//
// Responsibilities: statistical outlier rejection, voxel downsampling, and
// normal estimation with minimum-spanning-tree orientation.
// Key types: OutlierParams, VoxelParams, NormalParams.
//
// Every stage returns a fresh PointCloud and leaves its input untouched.
// Per-point work fans out over internal/parallel; orientation runs on a
// single goroutine after the join.
package cloud
