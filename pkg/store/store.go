// Package store defines the mare record model and the persistence contract.
// Implementations must provide identical semantics across backends: atomic
// check-and-set updates keyed on ModifiedAt and id-ordered cursor pages.
package store

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nitkach/mares/pkg/errmodel"
)

// MaxNameLength is the longest accepted name, in characters.
const MaxNameLength = 100

// PageSize is the fixed window of a cursor page.
const PageSize = 5

// Record is a persisted mare. Values are copies; mutating one never touches
// the stored row.
type Record struct {
	ID         string
	Name       string
	Breed      Breed
	ModifiedAt time.Time
}

// Breed is stored as its numeric code. Codes are persisted and must never be
// renumbered.
type Breed int16

const (
	BreedEarth   Breed = 0
	BreedPegasus Breed = 1
	BreedUnicorn Breed = 2
)

// Breeds lists every breed in code order.
var Breeds = []Breed{BreedEarth, BreedPegasus, BreedUnicorn}

func (b Breed) String() string {
	switch b {
	case BreedEarth:
		return "Earth"
	case BreedPegasus:
		return "Pegasus"
	case BreedUnicorn:
		return "Unicorn"
	default:
		return fmt.Sprintf("Breed(%d)", int16(b))
	}
}

// Valid reports whether b is one of the known codes.
func (b Breed) Valid() bool { return b >= BreedEarth && b <= BreedUnicorn }

// ParseBreed accepts a breed name in any case.
func ParseBreed(s string) (Breed, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "earth":
		return BreedEarth, nil
	case "pegasus":
		return BreedPegasus, nil
	case "unicorn":
		return BreedUnicorn, nil
	}
	return 0, errmodel.Validation("breed_unknown", fmt.Sprintf("unknown breed %q", s), map[string]any{"breed": s})
}

// MarshalText encodes the breed as its snake_case name.
func (b Breed) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("invalid breed code %d", int16(b))
	}
	return []byte(strings.ToLower(b.String())), nil
}

func (b *Breed) UnmarshalText(text []byte) error {
	v, err := ParseBreed(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// SetResult is the outcome of a check-and-set update. The zero value is
// SetUnknown, returned alongside a non-nil error.
type SetResult int

const (
	SetUnknown SetResult = iota
	SetSuccess
	SetModifiedAtConflict
	SetRecordNotFound
)

func (r SetResult) String() string {
	switch r {
	case SetUnknown:
		return "unknown"
	case SetSuccess:
		return "success"
	case SetModifiedAtConflict:
		return "modified_at_conflict"
	case SetRecordNotFound:
		return "record_not_found"
	default:
		return fmt.Sprintf("SetResult(%d)", int(r))
	}
}

// Direction selects which window Page returns relative to the cursor.
type Direction int

const (
	First Direction = iota
	Next
	Previous
)

func (d Direction) String() string {
	switch d {
	case First:
		return "first"
	case Next:
		return "next"
	case Previous:
		return "previous"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// ParseDirection maps a query value to a Direction; empty means First.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first":
		return First, nil
	case "next":
		return Next, nil
	case "previous", "prev":
		return Previous, nil
	}
	return 0, errmodel.Validation("direction_unknown", fmt.Sprintf("unknown page direction %q", s), map[string]any{"dir": s})
}

// Sentinels for errors.Is. Concrete errors carry a code and message.
var (
	ErrValidation  = &errmodel.Error{Category: errmodel.CategoryValidation}
	ErrUnavailable = &errmodel.Error{Category: errmodel.CategoryUnavailable}
)

// ValidateName enforces the name rules before any write.
func ValidateName(name string) error {
	if !utf8.ValidString(name) {
		return errmodel.Validation("name_encoding", "name must be valid UTF-8", nil)
	}
	if strings.ContainsRune(name, 0) {
		return errmodel.Validation("name_nul", "name must not contain NUL characters", nil)
	}
	if strings.TrimSpace(name) == "" {
		return errmodel.Validation("name_empty", "name must not be empty", nil)
	}
	if n := utf8.RuneCountInString(name); n > MaxNameLength {
		return errmodel.Validation("name_too_long",
			fmt.Sprintf("name is %d characters, at most %d allowed", n, MaxNameLength),
			map[string]any{"length": n})
	}
	return nil
}

// ValidateCursor accepts any string the engines can compare, including one
// that names no stored record.
func ValidateCursor(cursor string) error {
	if !utf8.ValidString(cursor) || strings.ContainsRune(cursor, 0) {
		return errmodel.Validation("cursor_encoding", "page cursor must be valid UTF-8 without NUL characters", nil)
	}
	return nil
}

// ValidateBreed rejects codes outside the fixed enumeration.
func ValidateBreed(b Breed) error {
	if !b.Valid() {
		return errmodel.Validation("breed_unknown", fmt.Sprintf("unknown breed code %d", int16(b)), nil)
	}
	return nil
}

// Unavailable wraps an engine failure so callers never see raw driver errors.
func Unavailable(op string, cause error) error {
	return errmodel.Unavailable("store_unavailable", op+": storage engine unavailable", map[string]any{"op": op}, cause)
}
