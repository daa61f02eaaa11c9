/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ErrIncomparable is returned by CompareAttributes for values of different kinds.
var ErrIncomparable = errors.New("attribute values are not comparable")

// Matches reports whether item satisfies the filter. A missing field or a value
// of another kind never matches.
func (f Filter) Matches(item map[string]types.AttributeValue) (bool, error) {
	got, ok := item[f.Field]
	if !ok {
		return false, nil
	}
	want, err := attributevalue.Marshal(f.Value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal filter value for %q: %w", f.Field, err)
	}

	c, err := CompareAttributes(got, want)
	if errors.Is(err, ErrIncomparable) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch f.Op {
	case OpEqual:
		return c == 0, nil
	case OpLessThan:
		return c < 0, nil
	case OpLessThanOrEqual:
		return c <= 0, nil
	case OpGreaterThan:
		return c > 0, nil
	case OpGreaterThanOrEqual:
		return c >= 0, nil
	}
	return false, fmt.Errorf("unsupported operator %q", f.Op)
}

// Matches reports whether item satisfies every filter of the query.
func (q *Query) Matches(item map[string]types.AttributeValue) (bool, error) {
	for _, f := range q.Filters {
		ok, err := f.Matches(item)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// CompareAttributes orders two scalar attribute values: numbers numerically,
// strings lexically, booleans false before true.
func CompareAttributes(a, b types.AttributeValue) (int, error) {
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, ErrIncomparable
		}
		x, _, err := big.ParseFloat(av.Value, 10, 256, big.ToNearestEven)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", av.Value, err)
		}
		y, _, err := big.ParseFloat(bv.Value, 10, 256, big.ToNearestEven)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", bv.Value, err)
		}
		return x.Cmp(y), nil
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, ErrIncomparable
		}
		return strings.Compare(av.Value, bv.Value), nil
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return 0, ErrIncomparable
		}
		switch {
		case av.Value == bv.Value:
			return 0, nil
		case !av.Value:
			return -1, nil
		default:
			return 1, nil
		}
	}
	return 0, ErrIncomparable
}
