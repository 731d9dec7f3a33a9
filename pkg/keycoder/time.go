package keycoder

import "time"

// utcOffsetShift and utcOffsetDiv implement the 7-bit "15 minutes past
// UTC offset" slot packed into the low bits of a timestamp's composite
// integer: 64 represents UTC, each unit above/below represents 15 minutes
// east/west, covering +/-16 hours.
const (
	utcOffsetShift = 64
	utcOffsetDiv   = 15 * 60
)

// writeTime appends a Time encoded as kind byte + composite varint. The
// composite value is milliseconds-since-epoch shifted left 7 bits, with the
// low 7 bits holding the UTC-offset slot. A negative composite (any instant
// before the Unix epoch; the slot itself is always 0..127) is encoded with
// kind kindNegTime using the descending integer form; a non-negative
// composite uses kind kindTime in ascending form.
func writeTime(dst []byte, t time.Time) []byte {
	msec := t.Unix()*1000 + int64(t.Nanosecond())/1e6
	msec <<= 7

	_, offsetSec := t.Zone()
	slot := int64(offsetSec/utcOffsetDiv) + utcOffsetShift
	msec |= slot

	if msec < 0 {
		dst = append(dst, kindNegTime)
		return WriteUint(dst, uint64(-msec), 0xff)
	}
	dst = append(dst, kindTime)
	return WriteUint(dst, uint64(msec), 0)
}

// readTime decodes a Time written by writeTime, given its kind byte already
// consumed by the caller.
func readTime(buf []byte, pos int, negative bool) (time.Time, int, error) {
	xor := byte(0)
	if negative {
		xor = 0xff
	}
	raw, pos, err := ReadUint(buf, pos, xor)
	if err != nil {
		return time.Time{}, pos, err
	}
	msec := int64(raw)
	if negative {
		msec = -msec
	}
	slot := msec & 0x7f
	msec >>= 7

	offsetSec := int(slot-utcOffsetShift) * utcOffsetDiv
	loc := time.FixedZone(offsetName(offsetSec), offsetSec)
	return time.UnixMilli(msec).In(loc), pos, nil
}

func offsetName(offsetSec int) string {
	sign := byte('+')
	if offsetSec < 0 {
		sign = '-'
		offsetSec = -offsetSec
	}
	h, m := offsetSec/3600, (offsetSec%3600)/60
	const digits = "0123456789"
	out := []byte{sign, digits[h/10], digits[h%10], ':', digits[m/10], digits[m%10]}
	return string(out)
}
