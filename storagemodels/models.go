/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/spf13/cast"

	"github.com/suparena/userstore/errors"
)

// Field names of a User document as stored remotely.
const (
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldAge       = "age"
)

// Attributes maintained by the store backends next to the document fields.
// They never appear in a decoded User.
const (
	AttrID         = "_id"
	AttrCollection = "_collection"
	AttrRevision   = "_rev"
	AttrUpdatedAt  = "_updatedAt"
)

// User is the document stored in the users collection. It carries no identifier;
// the store assigns one on Add and it travels next to the value in a Snapshot.
type User struct {
	FirstName string `json:"firstName" dynamodbav:"firstName" bson:"firstName"`
	LastName  string `json:"lastName" dynamodbav:"lastName" bson:"lastName"`
	Age       int    `json:"age" dynamodbav:"age" bson:"age"`
}

func (u User) String() string {
	return fmt.Sprintf("%s %s, %d", u.FirstName, u.LastName, u.Age)
}

// MatchQuery builds the equality query matching every field of u.
func (u User) MatchQuery() *Query {
	return NewQuery().
		WhereEqual(FieldFirstName, u.FirstName).
		WhereEqual(FieldLastName, u.LastName).
		WhereEqual(FieldAge, u.Age)
}

// Snapshot is a decoded document together with its store identity.
type Snapshot[T any] struct {
	ID         string          `json:"id"`
	Data       T               `json:"data"`
	UpdateTime strfmt.DateTime `json:"updateTime"`
}

// Patch maps field names to new values. A missing key leaves the field unchanged.
type Patch map[string]any

// Validate rejects keys outside the User fields and values of the wrong type.
// An empty patch is valid.
func (p Patch) Validate() error {
	for _, field := range p.Fields() {
		switch field {
		case FieldFirstName, FieldLastName:
			if _, ok := p[field].(string); !ok {
				return errors.NewValidationError(field, fmt.Sprintf("expected string, got %T", p[field]))
			}
		case FieldAge:
			switch p[field].(type) {
			case int, int32, int64:
			default:
				return errors.NewValidationError(field, fmt.Sprintf("expected integer, got %T", p[field]))
			}
		default:
			return errors.NewValidationError(field, "unknown field")
		}
	}
	return nil
}

// Fields returns the patch keys in sorted order.
func (p Patch) Fields() []string {
	fields := make([]string, 0, len(p))
	for k := range p {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// PatchFromInput builds a Patch from raw text inputs, skipping empty ones.
func PatchFromInput(firstName, lastName, age string) (Patch, error) {
	patch := Patch{}
	if firstName != "" {
		patch[FieldFirstName] = firstName
	}
	if lastName != "" {
		patch[FieldLastName] = lastName
	}
	if age = strings.TrimSpace(age); age != "" {
		n, err := ParseAge(age)
		if err != nil {
			return nil, err
		}
		patch[FieldAge] = n
	}
	return patch, nil
}

// ParseAge reads s as a base-10 integer with an optional leading minus sign.
// Leading zeros are ignored; prefixes such as 0x and digit separators are not
// accepted.
func ParseAge(s string) (int, error) {
	s = strings.TrimSpace(s)
	sign, digits := "", s
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	if digits == "" || strings.TrimLeft(digits, "0123456789") != "" {
		return 0, errors.NewValidationError(FieldAge, fmt.Sprintf("%q is not a decimal number", s))
	}
	if digits = strings.TrimLeft(digits, "0"); digits == "" {
		digits = "0"
	}
	n, err := cast.ToIntE(sign + digits)
	if err != nil {
		return 0, errors.NewValidationError(FieldAge, fmt.Sprintf("%q is out of range", s))
	}
	return n, nil
}
