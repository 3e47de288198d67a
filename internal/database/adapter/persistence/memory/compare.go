package memory

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"time"

	"arc-database/internal/database/domain/model"
)

// Type ranks follow MongoDB's BSON comparison order, so both drivers sort
// mixed-type fields the same way.
const (
	rankMissing = iota
	rankNull
	rankNumber
	rankString
	rankObject
	rankArray
	rankBool
	rankTime
	rankOther
)

// lookup resolves a dotted field path through nested objects.
func lookup(doc model.Document, field string) (interface{}, bool) {
	var current interface{} = map[string]interface{}(doc)
	for _, part := range strings.Split(field, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case model.Document:
		return t, true
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func rankOf(v interface{}) int {
	if v == nil {
		return rankNull
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	switch v.(type) {
	case string:
		return rankString
	case map[string]interface{}, model.Document:
		return rankObject
	case []interface{}:
		return rankArray
	case bool:
		return rankBool
	case time.Time:
		return rankTime
	}
	return rankOther
}

// compare orders a and b of the same rank; values of different ranks order by rank.
func compare(a, b interface{}) int {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		return compareOrdered(fa, fb)
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankBool:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case rankTime:
		return a.(time.Time).Compare(b.(time.Time))
	case rankArray:
		return compareArrays(a.([]interface{}), b.([]interface{}))
	case rankNull:
		return 0
	}
	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(reflect.TypeOf(a).String(), reflect.TypeOf(b).String())
}

func compareArrays(a, b []interface{}) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	return len(a) - len(b)
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func equalValues(a, b interface{}) bool {
	ra, rb := rankOf(a), rankOf(b)
	if ra != rb {
		return false
	}
	switch ra {
	case rankNumber, rankString, rankBool, rankTime, rankNull:
		return compare(a, b) == 0
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case model.Document:
		return normalize(map[string]interface{}(t))
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

// matches evaluates one filter. A missing field satisfies only "!=".
// Range operators only match values of the same type rank.
func matches(doc model.Document, f model.Filter) bool {
	value, present := lookup(doc, f.Field)
	if !present {
		return f.Operator == model.OperatorNotEqual
	}
	switch f.Operator {
	case model.OperatorEqual:
		return equalValues(value, f.Value)
	case model.OperatorNotEqual:
		return !equalValues(value, f.Value)
	}
	if rankOf(value) != rankOf(f.Value) {
		return false
	}
	c := compare(value, f.Value)
	switch f.Operator {
	case model.OperatorGreaterThan:
		return c > 0
	case model.OperatorGreaterThanOrEqual:
		return c >= 0
	case model.OperatorLessThan:
		return c < 0
	case model.OperatorLessThanOrEqual:
		return c <= 0
	}
	return false
}

func matchesAll(doc model.Document, filters []model.Filter) bool {
	for _, f := range filters {
		if !matches(doc, f) {
			return false
		}
	}
	return true
}

// sortDocuments applies orders in sequence and breaks remaining ties by id.
// Missing fields sort before every present value.
func sortDocuments(docs []model.Document, orders []model.Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orders {
			vi, iok := lookup(docs[i], o.Field)
			vj, jok := lookup(docs[j], o.Field)
			var c int
			switch {
			case !iok && !jok:
				c = 0
			case !iok:
				c = -1
			case !jok:
				c = 1
			default:
				c = compare(vi, vj)
			}
			if c == 0 {
				continue
			}
			if o.Direction == model.Descending {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID() < docs[j].ID()
	})
}
