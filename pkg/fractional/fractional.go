// Package fractional implements a fractional-indexing scheme: short opaque
// strings that preserve a total lexicographic order and always admit a key
// strictly between any two adjacent keys, without coordination between
// writers.
package fractional

import (
	"fmt"
	"strings"
)

// alphabet is the ordered 62-character set used to encode index digits:
// '0'-'9', then 'A'-'Z', then 'a'-'z'.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = len(alphabet)

// Error is returned by every fallible operation in this package (Validate,
// Between, Before, After). It carries the
// offending character or raw string so callers can surface a precise
// validation message.
type Error struct {
	Op    string // operation that failed: validate, between, before, after
	Kind  string // InvalidCharacter | InvalidIndex | CannotGenerate
	Value string // the offending character or index
}

func (e *Error) Error() string {
	switch e.Kind {
	case "InvalidCharacter":
		return fmt.Sprintf("fractional: %s: invalid character %q", e.Op, e.Value)
	case "InvalidIndex":
		return fmt.Sprintf("fractional: %s: invalid index %q", e.Op, e.Value)
	default:
		return fmt.Sprintf("fractional: %s: cannot generate index: %s", e.Op, e.Value)
	}
}

var posOf [256]int8

func init() {
	for i := range posOf {
		posOf[i] = -1
	}
	for i, c := range alphabet {
		posOf[byte(c)] = int8(i)
	}
}

func charAt(pos int) byte {
	return alphabet[pos%base]
}

func charPos(c byte) (int, bool) {
	p := posOf[c]
	if p < 0 {
		return 0, false
	}
	return int(p), true
}

// Initial returns the deterministic starting key, "a0".
func Initial() string {
	return "a0"
}

// Validate fails if s is empty or contains a character outside the
// fractional-index alphabet.
func Validate(s string) error {
	return validate("validate", s)
}

func validate(op, s string) error {
	if s == "" {
		return &Error{Op: op, Kind: "InvalidIndex", Value: s}
	}
	for i := 0; i < len(s); i++ {
		if _, ok := charPos(s[i]); !ok {
			return &Error{Op: op, Kind: "InvalidCharacter", Value: string(s[i])}
		}
	}
	return nil
}

// IsValidOrder reports whether every element is strictly less than its
// successor under plain string comparison.
func IsValidOrder(xs []string) bool {
	for i := 0; i+1 < len(xs); i++ {
		if !(xs[i] < xs[i+1]) {
			return false
		}
	}
	return true
}

func toDigits(s string) []int {
	digits := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		p, _ := charPos(s[i])
		digits[i] = p
	}
	return digits
}

func fromDigits(digits []int) string {
	var b strings.Builder
	b.Grow(len(digits))
	for _, d := range digits {
		b.WriteByte(charAt(d))
	}
	return b.String()
}

// midpoint walks a and b left to right, virtually padding the shorter key's
// tail with 0s (for a) or (base-1)s (for b). At the first differing digit it
// either emits the integer midpoint, or — when the digits are adjacent —
// copies a's digit and then appends a tail that sorts after a's remaining
// digits: a mid-alphabet digit when a has no remaining digits, otherwise the
// midpoint of a's remaining digits and an all-(base-1) tail.
func midpoint(a, b []int) []int {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	result := make([]int, 0, maxLen+1)
	for i := 0; i < maxLen; i++ {
		ad := 0
		if i < len(a) {
			ad = a[i]
		}
		bd := base - 1
		if i < len(b) {
			bd = b[i]
		}

		if ad == bd {
			result = append(result, ad)
			continue
		}

		if bd-ad == 1 {
			result = append(result, ad)
			if i+1 >= len(a) {
				return append(result, (base-1)/2)
			}
			return append(result, midpoint(a[i+1:], nil)...)
		} else {
			result = append(result, (ad+bd)/2)
		}
		return result
	}

	return append(result, base/2)
}

// Between returns a key m such that a < m < b, requiring a < b and both
// valid. It fails with CannotGenerate if a >= b, or if no key exists
// strictly between them (b is a followed only by '0's, e.g. "a" and "a0").
func Between(a, b string) (string, error) {
	const op = "between"
	if err := validate(op, a); err != nil {
		return "", err
	}
	if err := validate(op, b); err != nil {
		return "", err
	}
	if !(a < b) {
		return "", &Error{Op: op, Kind: "CannotGenerate", Value: fmt.Sprintf("%q must be less than %q", a, b)}
	}
	m := fromDigits(midpoint(toDigits(a), toDigits(b)))
	if !(a < m && m < b) {
		return "", &Error{Op: op, Kind: "CannotGenerate", Value: fmt.Sprintf("no key exists between %q and %q", a, b)}
	}
	return m, nil
}

// Before returns a key m such that m < x. It fails with CannotGenerate when x
// consists only of '0's, since no valid key sorts before it.
func Before(x string) (string, error) {
	const op = "before"
	if err := validate(op, x); err != nil {
		return "", err
	}

	last := x[len(x)-1]
	if pos, _ := charPos(last); pos > 0 {
		return x[:len(x)-1] + string(charAt(pos-1)), nil
	}

	// Last digit is already the minimum: fall back to the midpoint of a
	// synthetic minimum key and x.
	m := fromDigits(midpoint([]int{0}, toDigits(x)))
	if !(m < x) {
		return "", &Error{Op: op, Kind: "CannotGenerate", Value: fmt.Sprintf("no key exists before %q", x)}
	}
	return m, nil
}

// After returns a key m such that m > x.
func After(x string) (string, error) {
	const op = "after"
	if err := validate(op, x); err != nil {
		return "", err
	}

	last := x[len(x)-1]
	if pos, _ := charPos(last); pos < base-1 {
		return x[:len(x)-1] + string(charAt(pos+1)), nil
	}

	// Last digit is already the maximum: extend with a low mid-alphabet tail.
	return x + string(charAt(base/2)), nil
}

// GenerateSequence produces count indices in strictly increasing order,
// starting from Initial and repeatedly calling After. Used to seed a fresh
// document with evenly-ordered cells.
func GenerateSequence(count int) []string {
	if count <= 0 {
		return nil
	}

	result := make([]string, 0, count)
	result = append(result, Initial())
	for i := 1; i < count; i++ {
		next, err := After(result[len(result)-1])
		if err != nil {
			// After never fails for a previously-valid key; this branch
			// exists only to keep the function total.
			next = fmt.Sprintf("z%d", i)
		}
		result = append(result, next)
	}
	return result
}
