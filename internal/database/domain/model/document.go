package model

// IDField is the implicit field carrying a document's id.
const IDField = "id"

// Document is a JSON-compatible field mapping plus the implicit id field.
type Document map[string]interface{}

// ID returns the document's id field, or "" when absent.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// MergeFields returns a new document holding base overlaid with fields.
// Keys in fields win; nested maps are replaced, not merged. Neither input is modified.
func MergeFields(base, fields map[string]interface{}) Document {
	out := make(Document, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// WithID returns a copy of fields whose id field is set to id.
func WithID(fields map[string]interface{}, id string) Document {
	return MergeFields(fields, map[string]interface{}{IDField: id})
}

// Clone deep-copies maps and slices so the result shares no mutable state with d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case Document:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
