/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"fmt"
	"strings"

	"github.com/suparena/userstore/errors"
)

// Operator is a comparison applied by a Filter.
type Operator string

const (
	OpEqual              Operator = "=="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
)

// IsRange reports whether the operator is an inequality.
func (op Operator) IsRange() bool {
	switch op {
	case OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		return true
	}
	return false
}

func (op Operator) valid() bool {
	return op == OpEqual || op.IsRange()
}

// Direction is the sort direction of an OrderBy.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Filter compares one field against a value.
type Filter struct {
	Field string
	Op    Operator
	Value any
}

func (f Filter) String() string {
	return fmt.Sprintf("%s %s %v", f.Field, f.Op, f.Value)
}

// Order is the sort key of a query.
type Order struct {
	Field     string
	Direction Direction
}

// Query is a conjunction of filters with an optional sort key. Building a
// query never fails; the store checks it with Validate when it executes.
type Query struct {
	Filters []Filter
	Order   *Order
}

// NewQuery returns an empty query matching every document of the collection.
func NewQuery() *Query {
	return &Query{}
}

// Where adds a filter
func (q *Query) Where(field string, op Operator, value any) *Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// WhereEqual adds an equality filter
func (q *Query) WhereEqual(field string, value any) *Query {
	return q.Where(field, OpEqual, value)
}

// WhereGreaterThan adds a strict lower bound
func (q *Query) WhereGreaterThan(field string, value any) *Query {
	return q.Where(field, OpGreaterThan, value)
}

// WhereLessThan adds a strict upper bound
func (q *Query) WhereLessThan(field string, value any) *Query {
	return q.Where(field, OpLessThan, value)
}

// OrderBy sets the sort key, replacing any previous one.
func (q *Query) OrderBy(field string, direction Direction) *Query {
	q.Order = &Order{Field: field, Direction: direction}
	return q
}

// RangeField returns the field carrying inequality filters, or "" if none.
func (q *Query) RangeField() string {
	for _, f := range q.Filters {
		if f.Op.IsRange() {
			return f.Field
		}
	}
	return ""
}

// Validate applies the document-store query rules: range filters may target a
// single field, and when a sort key is present it must be that same field.
func (q *Query) Validate() error {
	rangeField := ""
	for _, f := range q.Filters {
		if f.Field == "" {
			return errors.NewValidationError("", "filter without a field")
		}
		if !f.Op.valid() {
			return errors.NewValidationError(f.Field, fmt.Sprintf("unsupported operator %q", f.Op))
		}
		if !f.Op.IsRange() {
			continue
		}
		if rangeField != "" && rangeField != f.Field {
			return errors.NewValidationError(f.Field,
				fmt.Sprintf("range filters are already applied to %q; only one field may carry inequalities", rangeField))
		}
		rangeField = f.Field
	}
	if q.Order != nil && rangeField != "" && q.Order.Field != rangeField {
		return errors.NewValidationError(q.Order.Field,
			fmt.Sprintf("query orders by %q but filters a range on %q; the first sort key must be the range field", q.Order.Field, rangeField))
	}
	return nil
}

func (q *Query) String() string {
	parts := make([]string, 0, len(q.Filters)+1)
	for _, f := range q.Filters {
		parts = append(parts, f.String())
	}
	s := "WHERE " + strings.Join(parts, " AND ")
	if len(parts) == 0 {
		s = "ALL"
	}
	if q.Order != nil {
		s += fmt.Sprintf(" ORDER BY %s %s", q.Order.Field, q.Order.Direction)
	}
	return s
}
