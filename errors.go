package multilakesar

import "errors"

var (
	ErrNoData            = errors.New("band has no valid samples")
	ErrInvalidDimensions = errors.New("invalid raster dimensions")
	ErrBandShapeMismatch = errors.New("band shape mismatch")
	ErrDecodeFailure     = errors.New("raster decode failure")
	ErrInvalidPixelSize  = errors.New("pixel size must be positive")
	ErrUnknownPreset     = errors.New("unknown visualization preset")
	ErrSuperseded        = errors.New("request superseded by a newer generation")
	ErrSidecarSchema     = errors.New("sidecar does not match a known schema")
)

// DecodeError carries a failure of the raster decoder. Its message is the
// decoder's message unchanged; errors.Is matches ErrDecodeFailure.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string { return e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecodeFailure }
