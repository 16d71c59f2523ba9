package status

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field offsets within a Reading. Fan and mbfan lines are
// name,rpm,frequency,duty; sensor lines are name,temperature.
const (
	FieldName        = 0
	FieldRPM         = 1
	FieldDuty        = 3
	FieldTemperature = 1
)

var (
	ErrMissingField = errors.New("missing field")
	ErrNotFinite    = errors.New("value is not finite")
)

// Reading holds the fields of one status line after the ChannelID.
type Reading []string

// Name returns the display name with its quotes removed.
func (r Reading) Name() string {
	if len(r) <= FieldName {
		return ""
	}
	return strings.Trim(strings.TrimSpace(r[FieldName]), `"`)
}

// RPM returns the measured fan speed.
func (r Reading) RPM() (float64, error) {
	return r.float(FieldRPM)
}

// Duty returns the duty cycle in percent. Short lines that stop before the
// duty offset carry the duty as their last field.
func (r Reading) Duty() (float64, error) {
	if len(r) > FieldDuty {
		return r.float(FieldDuty)
	}
	if len(r) > FieldRPM+1 {
		return r.float(len(r) - 1)
	}
	return 0, fmt.Errorf("duty: %w", ErrMissingField)
}

// Temperature returns the sensor temperature in Celsius.
func (r Reading) Temperature() (float64, error) {
	return r.float(FieldTemperature)
}

// Field returns the raw field at offset i.
func (r Reading) Field(i int) (string, bool) {
	if i < 0 || i >= len(r) {
		return "", false
	}
	return r[i], true
}

func (r Reading) float(i int) (float64, error) {
	s, ok := r.Field(i)
	if !ok {
		return 0, fmt.Errorf("field %d: %w", i, ErrMissingField)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("field %d: %w", i, err)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("field %d %q: %w", i, s, ErrNotFinite)
	}
	return v, nil
}

// Clone returns a copy that shares no memory with r.
func (r Reading) Clone() Reading {
	if r == nil {
		return nil
	}
	out := make(Reading, len(r))
	copy(out, r)
	return out
}
