package types

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a GlobalValue.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindFloat
)

// GlobalValue is a decoded <prefix>_globalinfo value: an integer, a float or a string.
type GlobalValue struct {
	Kind  ValueKind
	Int   int64
	Float float64
	Str   string
}

// ParseGlobalValue decodes a stored value, trying integer, float and quoted
// string in that order. Anything else is kept as the raw string.
func ParseGlobalValue(raw string) GlobalValue {
	s := strings.TrimSpace(raw)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return GlobalValue{Kind: KindInt, Int: i}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return GlobalValue{Kind: KindFloat, Float: f}
	}
	if len(s) >= 2 {
		switch {
		case s[0] == '"' && s[len(s)-1] == '"':
			if u, err := strconv.Unquote(s); err == nil {
				return GlobalValue{Kind: KindString, Str: u}
			}
		case s[0] == '\'' && s[len(s)-1] == '\'' && !strings.Contains(s[1:len(s)-1], "'"):
			return GlobalValue{Kind: KindString, Str: s[1 : len(s)-1]}
		}
	}
	return GlobalValue{Kind: KindString, Str: raw}
}

// IntValue returns an integer GlobalValue.
func IntValue(i int64) GlobalValue { return GlobalValue{Kind: KindInt, Int: i} }

// FloatValue returns a float GlobalValue.
func FloatValue(f float64) GlobalValue { return GlobalValue{Kind: KindFloat, Float: f} }

// StringValue returns a string GlobalValue.
func StringValue(s string) GlobalValue { return GlobalValue{Kind: KindString, Str: s} }

// AsFloat converts numeric values to float64.
func (v GlobalValue) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// String formats the value the way it would be stored.
func (v GlobalValue) String() string {
	switch v.Kind {
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return v.Str
	}
}

// GoString implements fmt.GoStringer for readable test failures.
func (v GlobalValue) GoString() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("IntValue(%d)", v.Int)
	case KindFloat:
		return fmt.Sprintf("FloatValue(%g)", v.Float)
	default:
		return fmt.Sprintf("StringValue(%q)", v.Str)
	}
}
