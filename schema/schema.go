// Package schema validates event rows before they are published and routes
// the rows that fail to a dead-letter topic.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	mm "github.com/Masterminds/semver/v3"
)

// Row is one event record keyed by column name.
type Row map[string]any

// Type is the value type a column holds.
type Type int

const (
	String Type = iota
	DateTime
)

func (t Type) String() string {
	switch t {
	case String:
		return "string"
	case DateTime:
		return "datetime"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Column describes one required column.
type Column struct {
	Name     string
	Type     Type
	Nullable bool

	// Check runs on the converted, non-null value.
	Check func(v any) error
}

// Schema validates rows column by column.
//
// With Coerce set, values of a different type are converted where possible:
// numbers and booleans become strings, and RFC 3339 strings or unix seconds
// become times. With Strict set, columns not named in the schema are rejected.
type Schema struct {
	Columns []Column
	Strict  bool
	Coerce  bool
}

// Option adjusts a Schema built by EventSchema.
type Option func(*Schema)

// EventSchema returns the schema every event row must satisfy: a string id,
// a date-time timestamp and a string version.
func EventSchema(coerce, strict, nullable bool, opts ...Option) *Schema {
	s := &Schema{
		Columns: []Column{
			{Name: "id", Type: String, Nullable: nullable},
			{Name: "timestamp", Type: DateTime, Nullable: nullable},
			{Name: "version", Type: String, Nullable: nullable},
		},
		Strict: strict,
		Coerce: coerce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSemverVersion requires the version column to be a semantic version.
func WithSemverVersion() Option {
	return withVersionCheck(func(v *mm.Version) error { return nil })
}

// WithVersionConstraint requires the version column to be a semantic version
// satisfying constraint, for example ">=1.2.0 <2.0.0".
func WithVersionConstraint(constraint string) (Option, error) {
	c, err := mm.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("parse version constraint %q: %w", constraint, err)
	}
	return withVersionCheck(func(v *mm.Version) error {
		if !c.Check(v) {
			return fmt.Errorf("version %s does not satisfy %s", v, constraint)
		}
		return nil
	}), nil
}

func withVersionCheck(check func(*mm.Version) error) Option {
	return func(s *Schema) {
		for i := range s.Columns {
			if s.Columns[i].Name != "version" {
				continue
			}
			s.Columns[i].Check = func(v any) error {
				parsed, err := mm.NewVersion(v.(string))
				if err != nil {
					return fmt.Errorf("not a semantic version: %w", err)
				}
				return check(parsed)
			}
		}
	}
}

// Violation is one reason a row failed.
type Violation struct {
	Column string
	Reason string
}

// RowError lists every violation found in a row.
type RowError struct {
	Violations []Violation
}

func (e *RowError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Column, v.Reason)
	}
	return "invalid row: " + strings.Join(parts, "; ")
}

// ValidateRow checks row and returns it with coerced values. The input row is
// not modified. On failure the error is a *RowError.
func (s *Schema) ValidateRow(row Row) (Row, error) {
	out := make(Row, len(row))
	var violations []Violation

	known := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		known[c.Name] = struct{}{}

		v, ok := row[c.Name]
		if !ok {
			violations = append(violations, Violation{Column: c.Name, Reason: "missing column"})
			continue
		}
		if v == nil {
			if !c.Nullable {
				violations = append(violations, Violation{Column: c.Name, Reason: "null value"})
				continue
			}
			out[c.Name] = nil
			continue
		}

		converted, err := s.convert(c.Type, v)
		if err == nil && c.Check != nil {
			err = c.Check(converted)
		}
		if err != nil {
			violations = append(violations, Violation{Column: c.Name, Reason: err.Error()})
			continue
		}
		out[c.Name] = converted
	}

	extra := make([]string, 0)
	for name, v := range row {
		if _, ok := known[name]; ok {
			continue
		}
		if s.Strict {
			extra = append(extra, name)
			continue
		}
		out[name] = v
	}
	sort.Strings(extra)
	for _, name := range extra {
		violations = append(violations, Violation{Column: name, Reason: "column not in schema"})
	}

	if len(violations) > 0 {
		return nil, &RowError{Violations: violations}
	}
	return out, nil
}

// Rejection is a row that failed validation, with its position in the input.
type Rejection struct {
	Index int
	Row   Row
	Err   error
}

// Validate splits rows into the coerced valid rows and the rejections, both in
// input order.
func (s *Schema) Validate(rows []Row) ([]Row, []Rejection) {
	var (
		valid    []Row
		rejected []Rejection
	)
	for i, row := range rows {
		out, err := s.ValidateRow(row)
		if err != nil {
			rejected = append(rejected, Rejection{Index: i, Row: row, Err: err})
			continue
		}
		valid = append(valid, out)
	}
	return valid, rejected
}

func (s *Schema) convert(t Type, v any) (any, error) {
	switch t {
	case String:
		return s.toString(v)
	case DateTime:
		return s.toTime(v)
	}
	return nil, fmt.Errorf("unsupported column type %s", t)
}

func (s *Schema) toString(v any) (any, error) {
	if str, ok := v.(string); ok {
		return str, nil
	}
	if !s.Coerce {
		return nil, fmt.Errorf("expected string, got %T", v)
	}

	switch n := v.(type) {
	case json.Number:
		return n.String(), nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case bool:
		return strconv.FormatBool(n), nil
	case fmt.Stringer:
		return n.String(), nil
	}
	return nil, fmt.Errorf("cannot coerce %T to string", v)
}

func (s *Schema) toTime(v any) (any, error) {
	if ts, ok := v.(time.Time); ok {
		return ts, nil
	}
	if !s.Coerce {
		return nil, fmt.Errorf("expected datetime, got %T", v)
	}

	switch n := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, n)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as RFC 3339 datetime", n)
		}
		return ts, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("cannot parse %q as unix seconds", n)
		}
		return unixSeconds(f), nil
	case float64:
		return unixSeconds(n), nil
	case int:
		return time.Unix(int64(n), 0).UTC(), nil
	case int64:
		return time.Unix(n, 0).UTC(), nil
	}
	return nil, fmt.Errorf("cannot coerce %T to datetime", v)
}

func unixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
