package geometry

import "errors"

// Error taxonomy shared by the pipeline stages. Stages wrap these with
// fmt.Errorf("...: %w", err) so callers can branch with errors.Is.
var (
	// ErrEmptyInput is returned when an operation receives no points or triangles.
	ErrEmptyInput = errors.New("empty input")

	// ErrInsufficientPoints is fatal: the cloud is too small for the operation.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrDegenerateNeighborhood is per-point: a local plane fit had too few neighbors.
	ErrDegenerateNeighborhood = errors.New("degenerate neighborhood")

	// ErrMissingNormals is a precondition failure entering reconstruction.
	ErrMissingNormals = errors.New("missing normals")

	// ErrReconstructionFailed means a surface could not be produced.
	ErrReconstructionFailed = errors.New("reconstruction failed")

	// ErrSimplificationFailed is soft: the unsimplified mesh is still usable.
	ErrSimplificationFailed = errors.New("simplification failed")

	// ErrInvalidParams is returned for out-of-range stage parameters.
	ErrInvalidParams = errors.New("invalid parameters")
)
