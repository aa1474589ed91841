package dispatch

import "fmt"

// FieldType is the closed set of scalar types a param schema can name.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "bool"
	TypeObject FieldType = "object"
	TypeArray  FieldType = "array"
)

// Field describes one parameter's validation rule (spec §4.1 step 4:
// required fields, types, enum membership, numeric ranges).
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Enum     []string
	Min      *float64
	Max      *float64
}

// Schema is an ordered list of Fields; validation reports the first
// offending field, matching the spec's "naming the first offending
// field" requirement.
type Schema struct {
	Fields []Field
}

// Validate checks params (already json.Unmarshal'd into a generic map)
// against s, returning the name of the first offending field, or "" if
// params satisfy the schema.
func (s Schema) Validate(params map[string]any) (badField string, reason string) {
	for _, f := range s.Fields {
		v, present := params[f.Name]
		if !present {
			if f.Required {
				return f.Name, "missing required field"
			}
			continue
		}
		if reason := checkType(f, v); reason != "" {
			return f.Name, reason
		}
		if len(f.Enum) > 0 {
			s, ok := v.(string)
			if !ok || !contains(f.Enum, s) {
				return f.Name, fmt.Sprintf("must be one of %v", f.Enum)
			}
		}
		if f.Min != nil || f.Max != nil {
			n, ok := v.(float64)
			if !ok {
				return f.Name, "must be numeric for range check"
			}
			if f.Min != nil && n < *f.Min {
				return f.Name, fmt.Sprintf("must be >= %v", *f.Min)
			}
			if f.Max != nil && n > *f.Max {
				return f.Name, fmt.Sprintf("must be <= %v", *f.Max)
			}
		}
	}
	return "", ""
}

func checkType(f Field, v any) string {
	switch f.Type {
	case TypeString:
		if _, ok := v.(string); !ok {
			return "must be a string"
		}
	case TypeNumber:
		if _, ok := v.(float64); !ok {
			return "must be a number"
		}
	case TypeBool:
		if _, ok := v.(bool); !ok {
			return "must be a boolean"
		}
	case TypeObject:
		if _, ok := v.(map[string]any); !ok {
			return "must be an object"
		}
	case TypeArray:
		if _, ok := v.([]any); !ok {
			return "must be an array"
		}
	}
	return ""
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func floatPtr(f float64) *float64 { return &f }
