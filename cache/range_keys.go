package cache

import (
	"fmt"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Wildcard stands for any digit in a range key suffix.
const Wildcard = '*'

const (
	// DefaultArity is the radix used to render values into range keys.
	DefaultArity = 10
	// MinArity and MaxArity bound the radixes strconv can render.
	MinArity = 2
	MaxArity = 36
)

// Range is an inclusive interval of integer attribute values.
type Range struct {
	First int64 `msgpack:"f" json:"first"`
	Last  int64 `msgpack:"l" json:"last"`
}

// NewRange returns the inclusive range first..last.
func NewRange(first, last int64) Range {
	return Range{First: first, Last: last}
}

// Empty reports whether the range holds no values.
func (r Range) Empty() bool {
	return r.Last < r.First
}

// Contains reports whether v falls within the range.
func (r Range) Contains(v int64) bool {
	return v >= r.First && v <= r.Last
}

func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.First, r.Last)
}

// ValidateArity reports whether arity can be used as a key radix.
func ValidateArity(arity int) error {
	if arity < MinArity || arity > MaxArity {
		return goerrors.New(
			fmt.Sprintf("arity %d out of bounds [%d, %d]", arity, MinArity, MaxArity),
			goerrors.CategoryBadInput,
		)
	}
	return nil
}

func maxDigit(arity int) byte {
	return strconv.FormatInt(int64(arity-1), arity)[0]
}

func wildcards(n int) string {
	return strings.Repeat(string(Wildcard), n)
}

// KeyFromRange returns the shortest key suffix whose decoded range covers r: the
// common prefix of the base-arity renderings of both bounds followed by wildcards.
// The low bound is zero padded to the width of the high bound.
func KeyFromRange(arity int, r Range) (string, error) {
	if err := ValidateArity(arity); err != nil {
		return "", err
	}
	if r.Empty() || r.First < 0 {
		return "", goerrors.New("cannot key range "+r.String(), goerrors.CategoryBadInput)
	}

	high := strconv.FormatInt(r.Last, arity)
	low := strconv.FormatInt(r.First, arity)
	if pad := len(high) - len(low); pad > 0 {
		low = strings.Repeat("0", pad) + low
	}

	prefix := 0
	for prefix < len(high) && high[prefix] == low[prefix] {
		prefix++
	}
	return high[:prefix] + wildcards(len(high)-prefix), nil
}

// RangeFromKey decodes a key suffix back into the range of values it denotes.
// A leading "attribute/" segment is ignored.
func RangeFromKey(arity int, key string) (Range, error) {
	if err := ValidateArity(arity); err != nil {
		return Range{}, err
	}
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		key = key[i+1:]
	}
	if key == "" {
		return Range{}, goerrors.New("empty range key", goerrors.CategoryBadInput)
	}
	if key[0] == '-' || key[0] == '+' {
		return Range{}, goerrors.New("invalid range key "+key, goerrors.CategoryBadInput)
	}

	low := strings.ReplaceAll(key, string(Wildcard), "0")
	high := strings.ReplaceAll(key, string(Wildcard), string(maxDigit(arity)))

	first, err := strconv.ParseInt(low, arity, 64)
	if err != nil {
		return Range{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid range key "+key)
	}
	last, err := strconv.ParseInt(high, arity, 64)
	if err != nil {
		return Range{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid range key "+key)
	}
	return Range{First: first, Last: last}, nil
}

// RangeCacheKeys decomposes r into the minimal set of non-overlapping key suffixes
// whose decoded ranges exactly cover r. Keys are produced from the high end down.
// An empty range yields no keys; negative bounds cannot be keyed.
func RangeCacheKeys(arity int, r Range) ([]string, error) {
	if err := ValidateArity(arity); err != nil {
		return nil, err
	}
	if r.Empty() {
		return nil, nil
	}
	if r.First < 0 {
		return nil, goerrors.New("cannot key negative range "+r.String(), goerrors.CategoryBadInput)
	}

	var keys []string
	for last := r.Last; last >= r.First; {
		var key string
		key, last = largestMatchingRangeKey(arity, r, last)
		keys = append(keys, key)
	}
	return keys, nil
}

// largestMatchingRangeKey finds the widest block ending at value that stays inside r.
// The block is the longest run of trailing max digits whose zeroed form is >= r.First.
// It returns the key for that block and the next upper bound below it.
func largestMatchingRangeKey(arity int, r Range, value int64) (string, int64) {
	digits := strconv.FormatInt(value, arity)
	top := maxDigit(arity)

	split := len(digits)
	for split > 0 && digits[split-1] == top {
		split--
	}

	// span is the numeric value of digits[split:], all max digits.
	span := func(n int) int64 {
		var v int64
		for i := 0; i < n; i++ {
			v = v*int64(arity) + int64(arity-1)
		}
		return v
	}

	width := len(digits) - split
	for width > 0 && !r.Contains(value-span(width)) {
		width--
	}
	split = len(digits) - width

	return digits[:split] + wildcards(width), value - (span(width) + 1)
}

// PointKeys returns every key suffix containing value, from the exact rendering to
// the all-wildcard key of the same width: 106 yields 106, 10*, 1**, ***.
func PointKeys(arity int, value int64) ([]string, error) {
	if err := ValidateArity(arity); err != nil {
		return nil, err
	}
	if value < 0 {
		return nil, goerrors.New(fmt.Sprintf("cannot key negative value %d", value), goerrors.CategoryBadInput)
	}

	digits := strconv.FormatInt(value, arity)
	keys := make([]string, 0, len(digits)+1)
	for i := len(digits); i >= 0; i-- {
		keys = append(keys, digits[:i]+wildcards(len(digits)-i))
	}
	return keys, nil
}

// IsWildcardKey reports whether the suffix of key contains a wildcard.
func IsWildcardKey(key string) bool {
	return strings.IndexByte(suffix(key), Wildcard) >= 0
}

// IsLeftBranch reports whether the suffix of key is made only of wildcards
// (attr/*, attr/**, ...).
func IsLeftBranch(key string) bool {
	s := suffix(key)
	return s != "" && strings.Trim(s, string(Wildcard)) == ""
}

func suffix(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
