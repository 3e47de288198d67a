package mongodb

import (
	"fmt"
	"reflect"

	"arc-database/internal/database/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const mongoIDField = "_id"

// toStored converts fields into the stored shape: id becomes _id.
func toStored(fields map[string]interface{}, id string) bson.M {
	out := make(bson.M, len(fields)+1)
	for k, v := range fields {
		if k == model.IDField {
			continue
		}
		out[k] = v
	}
	out[mongoIDField] = id
	return out
}

// setFields is the $set payload of a merge update.
func setFields(fields map[string]interface{}) bson.M {
	out := make(bson.M, len(fields))
	for k, v := range fields {
		if k == model.IDField || k == mongoIDField {
			continue
		}
		out[k] = v
	}
	return out
}

// fromStored converts a decoded BSON document into a Document with plain Go
// maps and slices.
func fromStored(raw bson.M) model.Document {
	if raw == nil {
		return nil
	}
	doc := make(model.Document, len(raw))
	for k, v := range raw {
		if k == mongoIDField {
			doc[model.IDField] = idString(v)
			continue
		}
		doc[k] = fromBSONValue(v)
	}
	return doc
}

func idString(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(id)
	}
}

func fromBSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = fromBSONValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = fromBSONValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = fromBSONValue(e.Value)
		}
		return out
	case primitive.A:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = fromBSONValue(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = fromBSONValue(e)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	default:
		return v
	}
}

// sameDocument compares two documents treating numerically equal values of
// different widths as equal, since BSON narrows ints on the way in.
func sameDocument(a, b model.Document) bool {
	return reflect.DeepEqual(normalizeNumbers(map[string]interface{}(a)), normalizeNumbers(map[string]interface{}(b)))
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeNumbers(e)
		}
		return out
	case model.Document:
		return normalizeNumbers(map[string]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeNumbers(e)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	}
	return v
}
