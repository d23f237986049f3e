package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AttendanceCode is the per-date entry of a course attendance grid.
type AttendanceCode uint8

const (
	CodePresent AttendanceCode = iota + 1
	CodeLate
	CodeExcused
	CodeUnexcused
)

var (
	ErrUnknownAttendanceCode = errors.New("unknown attendance code")
	ErrInvalidCourseEntry    = errors.New("invalid course attendance entry")
)

// ParseAttendanceCode accepts the letters A, S, E and U.
func ParseAttendanceCode(s string) (AttendanceCode, error) {
	switch s {
	case "A":
		return CodePresent, nil
	case "S":
		return CodeLate, nil
	case "E":
		return CodeExcused, nil
	case "U":
		return CodeUnexcused, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAttendanceCode, s)
}

func (c AttendanceCode) Valid() bool {
	return c >= CodePresent && c <= CodeUnexcused
}

func (c AttendanceCode) String() string {
	switch c {
	case CodePresent:
		return "A"
	case CodeLate:
		return "S"
	case CodeExcused:
		return "E"
	case CodeUnexcused:
		return "U"
	}
	return fmt.Sprintf("AttendanceCode(%d)", uint8(c))
}

// Label returns the German description shown next to the code.
func (c AttendanceCode) Label() string {
	switch c {
	case CodePresent:
		return "Anwesend"
	case CodeLate:
		return "Verspätet"
	case CodeExcused:
		return "Entschuldigt"
	case CodeUnexcused:
		return "Unentschuldigt"
	}
	return ""
}

func (c AttendanceCode) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAttendanceCode, uint8(c))
	}
	return json.Marshal(c.String())
}

func (c *AttendanceCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAttendanceCode(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type CourseAttendanceEntry struct {
	Code       AttendanceCode `json:"code"`
	ExcuseInfo *ExcuseInfo    `json:"excuse_info,omitempty"`
}

// Validate checks the code/excuse pairing: E always carries an excuse, S may,
// A and U never do.
func (e CourseAttendanceEntry) Validate() error {
	switch e.Code {
	case CodeExcused:
		if e.ExcuseInfo == nil {
			return fmt.Errorf("%w: code E without excuse", ErrInvalidCourseEntry)
		}
	case CodeLate:
	case CodePresent, CodeUnexcused:
		if e.ExcuseInfo != nil {
			return fmt.Errorf("%w: code %s with excuse", ErrInvalidCourseEntry, e.Code)
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownAttendanceCode, uint8(e.Code))
	}
	return nil
}
