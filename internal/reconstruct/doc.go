// Package reconstruct turns an oriented point cloud into a triangle mesh.
//
// Responsibilities:
//   - Screened Poisson reconstruction: an adaptive octree over the samples,
//     an implicit indicator function solved on a uniform grid, and a
//     marching cubes surface extracted at the mean sample value.
//   - Ball pivoting reconstruction over several ball radii derived from the
//     mean point spacing.
//   - The Poisson-then-ball-pivoting fallback policy, tracked by State.
//
// Key types:
//   - Strategy: one reconstruction algorithm.
//   - Reconstructor: runs the primary strategy and falls back on failure.
//   - Outcome: the mesh plus the final State and per-strategy errors.
//
// Dependency rule: reconstruct depends on geometry, spatial, parallel and
// monitoring. It never imports cloud, meshproc or pipeline.
package reconstruct
