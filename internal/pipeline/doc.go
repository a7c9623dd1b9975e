// Package pipeline sequences the room scan stages into one run.
//
// It is the composition root of the core: it imports cloud, reconstruct
// and meshproc, converts a config.PipelineConfig into per-stage parameter
// values once per run, and decides which failures abort the run and which
// degrade it. None of the stage packages import pipeline.
//
// Failure policy:
//
//   - too few points, an empty cloud or inconsistent attributes abort the
//     run with an error naming the stage
//   - reconstruction exhausting both strategies is soft: the oriented cloud
//     becomes the terminal artifact and a warning is recorded
//   - simplification failure is soft: the cleaned mesh is kept
package pipeline
