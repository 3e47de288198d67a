package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	"arc-database/internal/shared/errors"
)

// Query constrains a collection read. The zero value matches every document.
type Query struct {
	Where   []Filter `json:"where,omitempty"`
	OrderBy []Order  `json:"orderBy,omitempty"`
	Limit   *int     `json:"limit,omitempty"`
}

// Filter is one where clause; all filters of a query are AND-combined.
type Filter struct {
	Field    string      `json:"field"`
	Operator string      `json:"op"`
	Value    interface{} `json:"value"`
}

// Order is one orderBy clause.
type Order struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

const (
	// Ascending is used for ordering in ascending order.
	Ascending = "asc"
	// Descending is used for ordering in descending order.
	Descending = "desc"
)

// Operator types for filters
const (
	OperatorEqual              = "=="
	OperatorNotEqual           = "!="
	OperatorLessThan           = "<"
	OperatorLessThanOrEqual    = "<="
	OperatorGreaterThan        = ">"
	OperatorGreaterThanOrEqual = ">="
)

// IsEmpty reports whether q places no constraint.
func (q Query) IsEmpty() bool {
	return len(q.Where) == 0 && len(q.OrderBy) == 0 && q.Limit == nil
}

// WithLimit returns a copy of q limited to n documents.
func (q Query) WithLimit(n int) Query {
	q.Limit = &n
	return q
}

// Validate rejects unknown operators and directions, empty fields and negative limits.
func (q Query) Validate() error {
	for i, f := range q.Where {
		if f.Field == "" {
			return errors.NewInvalidQueryError(fmt.Sprintf("where[%d]: field is empty", i))
		}
		if !IsValidOperator(f.Operator) {
			return errors.NewInvalidQueryError(fmt.Sprintf("where[%d]: unsupported operator %q", i, f.Operator)).
				WithDetail("operator", f.Operator)
		}
	}
	for i, o := range q.OrderBy {
		if o.Field == "" {
			return errors.NewInvalidQueryError(fmt.Sprintf("orderBy[%d]: field is empty", i))
		}
		if o.Direction != Ascending && o.Direction != Descending {
			return errors.NewInvalidQueryError(fmt.Sprintf("orderBy[%d]: direction must be asc or desc", i)).
				WithDetail("direction", o.Direction)
		}
	}
	if q.Limit != nil && *q.Limit < 0 {
		return errors.NewInvalidQueryError("limit must not be negative").WithDetail("limit", *q.Limit)
	}
	return nil
}

// IsValidOperator reports whether op is one of the six comparison operators.
func IsValidOperator(op string) bool {
	switch op {
	case OperatorEqual, OperatorNotEqual, OperatorLessThan, OperatorLessThanOrEqual,
		OperatorGreaterThan, OperatorGreaterThanOrEqual:
		return true
	}
	return false
}

// UnmarshalJSON accepts ["field", "op", value] as well as the object form.
func (f *Filter) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var triple []json.RawMessage
		if err := json.Unmarshal(data, &triple); err != nil {
			return err
		}
		if len(triple) != 3 {
			return fmt.Errorf("filter must have 3 elements, got %d", len(triple))
		}
		if err := json.Unmarshal(triple[0], &f.Field); err != nil {
			return fmt.Errorf("filter field: %w", err)
		}
		if err := json.Unmarshal(triple[1], &f.Operator); err != nil {
			return fmt.Errorf("filter operator: %w", err)
		}
		return json.Unmarshal(triple[2], &f.Value)
	}

	type plain Filter
	return json.Unmarshal(data, (*plain)(f))
}

// UnmarshalJSON accepts "field", ["field", "dir"] and the object form.
// A missing direction means ascending.
func (o *Order) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) > 0 && data[0] == '"':
		o.Direction = Ascending
		return json.Unmarshal(data, &o.Field)
	case len(data) > 0 && data[0] == '[':
		var pair []string
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) < 1 || len(pair) > 2 {
			return fmt.Errorf("order must have 1 or 2 elements, got %d", len(pair))
		}
		o.Field, o.Direction = pair[0], Ascending
		if len(pair) == 2 {
			o.Direction = pair[1]
		}
		return nil
	}

	type plain Order
	if err := json.Unmarshal(data, (*plain)(o)); err != nil {
		return err
	}
	if o.Direction == "" {
		o.Direction = Ascending
	}
	return nil
}
