package media

import "errors"

// Sentinel errors covering the pipeline's failure taxonomy. Raise sites wrap
// these with context via fmt.Errorf so callers can distinguish failure modes
// using errors.Is. A closed control channel is the designed shutdown signal,
// never an error.
var (
	ErrOpen          = errors.New("media: cannot open container")
	ErrNoStreamFound = errors.New("media: no suitable stream found")
	ErrDecoderInit   = errors.New("media: decoder init failed")
	ErrOutputDevice  = errors.New("media: audio output device failed")
	ErrResamplerInit = errors.New("media: resampler init failed")
	ErrDecode        = errors.New("media: decode failed")
)
