package shardmap

import (
	"math/bits"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HashKey is an unsigned 128-bit integer in the key space [0, 2^128)
// that Kinesis uses to assign records to shards. It is a plain value
// type, so that comparing hash keys on the record enqueueing path does
// not allocate.
type HashKey struct {
	hi uint64
	lo uint64
}

// MaxHashKey is the highest valid hash key, 2^128 - 1.
var MaxHashKey = HashKey{hi: ^uint64(0), lo: ^uint64(0)}

// NewHashKey creates a hash key from the upper and lower 64 bits of its
// 128-bit value.
func NewHashKey(hi, lo uint64) HashKey {
	return HashKey{hi: hi, lo: lo}
}

// ParseHashKey converts the decimal string representation used by the
// Kinesis API (e.g. the bounds of a shard's hash key range) to a
// HashKey.
func ParseHashKey(s string) (HashKey, error) {
	if s == "" {
		return HashKey{}, status.Error(codes.InvalidArgument, "Hash key is empty")
	}
	var k HashKey
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return HashKey{}, status.Errorf(codes.InvalidArgument, "Hash key %#v contains a non-digit character", s)
		}
		hiCarry, hi := bits.Mul64(k.hi, 10)
		loCarry, lo := bits.Mul64(k.lo, 10)
		hi, hiOverflow := bits.Add64(hi, loCarry, 0)
		lo, loCarry = bits.Add64(lo, uint64(c-'0'), 0)
		hi, hiOverflow2 := bits.Add64(hi, loCarry, 0)
		if hiCarry != 0 || hiOverflow != 0 || hiOverflow2 != 0 {
			return HashKey{}, status.Errorf(codes.InvalidArgument, "Hash key %#v does not fit in 128 bits", s)
		}
		k.hi, k.lo = hi, lo
	}
	return k, nil
}

// MustParseHashKey is identical to ParseHashKey, except that it panics
// upon failure.
func MustParseHashKey(s string) HashKey {
	k, err := ParseHashKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Compare returns -1, 0 or 1 depending on whether k orders before,
// equal to or after other.
func (k HashKey) Compare(other HashKey) int {
	if k.hi != other.hi {
		if k.hi < other.hi {
			return -1
		}
		return 1
	}
	if k.lo != other.lo {
		if k.lo < other.lo {
			return -1
		}
		return 1
	}
	return 0
}

// IsZero returns whether the hash key is the lowest valid hash key.
func (k HashKey) IsZero() bool {
	return k.hi == 0 && k.lo == 0
}

// Previous returns the hash key that immediately precedes k. It may
// only be called on nonzero hash keys.
func (k HashKey) Previous() HashKey {
	if k.IsZero() {
		panic("Attempted to compute the predecessor of hash key zero")
	}
	if k.lo == 0 {
		return HashKey{hi: k.hi - 1, lo: ^uint64(0)}
	}
	return HashKey{hi: k.hi, lo: k.lo - 1}
}

func (k HashKey) String() string {
	if k.IsZero() {
		return "0"
	}
	// 2^128 - 1 has 39 decimal digits.
	var digits [39]byte
	i := len(digits)
	for !k.IsZero() {
		var rem uint64
		hi := k.hi / 10
		k.lo, rem = bits.Div64(k.hi%10, k.lo, 10)
		k.hi = hi
		i--
		digits[i] = '0' + byte(rem)
	}
	return string(digits[i:])
}
