package iterator

import "errors"

// errShortPhysValue is returned when a physical record's value is too
// short to contain the header its key list implies (a compressor id byte,
// or a batch member-length table).
var errShortPhysValue = errors.New("iterator: physical value too short")
