package keycoder

import "errors"

// ErrUnsupported is returned by Pack when a tuple element is not one of the
// seven supported primitive types.
var ErrUnsupported = errors.New("keycoder: unsupported element type")

// ErrCorrupt is returned by Unpack/UnpackInt when the input is truncated or
// contains an unrecognised kind byte.
var ErrCorrupt = errors.New("keycoder: corrupt key")
