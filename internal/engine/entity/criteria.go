package entity

import "math"

// Criteria is the feature-match predicate used for handler eligibility,
// requirement matching, and template advertisement.
//
// Empty fields match anything; populated fields are conjunctive. Tags and
// Caps are subset checks against the candidate's sets; Attrs require equal
// values under JSON number normalization.
type Criteria struct {
	Kinds []string       `json:"kinds,omitempty"`
	Tags  []string       `json:"tags,omitempty"`
	Caps  []string       `json:"caps,omitempty"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// IsZero reports whether the criteria constrain nothing.
func (c Criteria) IsZero() bool {
	return len(c.Kinds) == 0 && len(c.Tags) == 0 && len(c.Caps) == 0 && len(c.Attrs) == 0
}

// Match reports whether the entity satisfies the criteria.
func (c Criteria) Match(e *Entity) bool {
	if e == nil {
		return false
	}
	if len(c.Kinds) > 0 && !sliceContains(c.Kinds, e.Kind) {
		return false
	}
	for _, tag := range c.Tags {
		if !e.HasTag(tag) {
			return false
		}
	}
	for _, capability := range c.Caps {
		if !e.HasCap(capability) {
			return false
		}
	}
	for key, want := range c.Attrs {
		got, ok := e.Attr(key)
		if !ok || !EqualValue(got, want) {
			return false
		}
	}
	return true
}

// Covers reports whether this criteria, read as an advertised capability
// shape, is a superset of the requirement criteria: anything the shape can
// produce satisfies the requirement.
func (c Criteria) Covers(req Criteria) bool {
	if len(req.Kinds) > 0 {
		if len(c.Kinds) == 0 {
			return false
		}
		for _, kind := range req.Kinds {
			if !sliceContains(c.Kinds, kind) {
				return false
			}
		}
	}
	for _, tag := range req.Tags {
		if !sliceContains(c.Tags, tag) {
			return false
		}
	}
	for _, capability := range req.Caps {
		if !sliceContains(c.Caps, capability) {
			return false
		}
	}
	for key, want := range req.Attrs {
		got, ok := c.Attrs[key]
		if !ok || !EqualValue(got, want) {
			return false
		}
	}
	return true
}

// EqualValue compares attribute values with JSON number normalization, so a
// value written as int compares equal to the float64 it becomes after a
// serialize/deserialize round trip.
func EqualValue(a, b any) bool {
	if na, ok := toFloat(a); ok {
		nb, ok := toFloat(b)
		return ok && na == nb
	}
	switch va := a.(type) {
	case nil:
		return b == nil
	case string:
		vb, ok := b.(string)
		return ok && va == vb
	case bool:
		vb, ok := b.(bool)
		return ok && va == vb
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !EqualValue(va[i], vb[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for key, elem := range va {
			other, ok := vb[key]
			if !ok || !EqualValue(elem, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		f := float64(v)
		if math.IsNaN(f) {
			return 0, false
		}
		return f, true
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

func sliceContains(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
