/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/storagemodels"
)

var comparisonOperators = map[storagemodels.Operator]string{
	storagemodels.OpEqual:              "=",
	storagemodels.OpLessThan:           "<",
	storagemodels.OpLessThanOrEqual:    "<=",
	storagemodels.OpGreaterThan:        ">",
	storagemodels.OpGreaterThanOrEqual: ">=",
}

// queryPlan is a compiled Query. Exactly one of query and scan is set.
// residual holds filters on the index sort key beyond the one placed in the
// key condition; DynamoDB rejects key attributes in a FilterExpression, so
// these are evaluated on each returned item.
type queryPlan struct {
	query    *sdk.QueryInput
	scan     *sdk.ScanInput
	residual *storagemodels.Query
}

// Query executes q and materializes every matching document.
func (d *DynamodbDataStore[T]) Query(ctx context.Context, q *storagemodels.Query) ([]storagemodels.Snapshot[T], error) {
	return storagemodels.Collect(d.Stream(ctx, q))
}

// expressionBuilder assigns placeholders to attribute names and values.
type expressionBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byName map[string]string
}

func newExpressionBuilder() *expressionBuilder {
	return &expressionBuilder{
		names:  map[string]string{},
		values: map[string]types.AttributeValue{},
		byName: map[string]string{},
	}
}

func (b *expressionBuilder) name(attr string) string {
	if p, ok := b.byName[attr]; ok {
		return p
	}
	p := fmt.Sprintf("#n%d", len(b.names))
	b.names[p] = attr
	b.byName[attr] = p
	return p
}

func (b *expressionBuilder) value(v any) (string, error) {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return "", err
	}
	p := fmt.Sprintf(":v%d", len(b.values))
	b.values[p] = av
	return p, nil
}

func (b *expressionBuilder) condition(f storagemodels.Filter) (string, error) {
	op, ok := comparisonOperators[f.Op]
	if !ok {
		return "", storeerrors.NewValidationError(f.Field, fmt.Sprintf("unsupported operator %q", f.Op))
	}
	placeholder, err := b.value(f.Value)
	if err != nil {
		return "", storeerrors.NewValidationError(f.Field, fmt.Sprintf("unsupported value %v: %v", f.Value, err))
	}
	return fmt.Sprintf("%s %s %s", b.name(f.Field), op, placeholder), nil
}

// compileQuery turns q into a DynamoDB request. Unordered queries scan the
// table filtered to the collection; ordered queries read the GSI that sorts
// the collection by the order field.
func (d *DynamodbDataStore[T]) compileQuery(q *storagemodels.Query) (*queryPlan, error) {
	if q == nil {
		q = storagemodels.NewQuery()
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	b := newExpressionBuilder()

	if q.Order == nil {
		conds := []string{fmt.Sprintf("%s = %s", b.name(storagemodels.AttrCollection), mustValue(b, d.collection))}
		for _, f := range q.Filters {
			c, err := b.condition(f)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
		return &queryPlan{
			scan: &sdk.ScanInput{
				TableName:                 &d.tableName,
				FilterExpression:          aws.String(strings.Join(conds, " AND ")),
				ExpressionAttributeNames:  b.names,
				ExpressionAttributeValues: b.values,
				ConsistentRead:            aws.Bool(true),
			},
		}, nil
	}

	idx, ok := d.GetGSIConfig(q.Order.Field)
	if !ok {
		return nil, storeerrors.NewValidationError(q.Order.Field,
			fmt.Sprintf("no index configured for ordering by %q", q.Order.Field))
	}

	keyConds := []string{fmt.Sprintf("%s = %s", b.name(idx.PartitionKeyName), mustValue(b, d.collection))}
	var filterConds []string
	residual := storagemodels.NewQuery()
	sortKeyBound := false
	for _, f := range q.Filters {
		if f.Field == idx.SortKeyName {
			if sortKeyBound {
				residual.Filters = append(residual.Filters, f)
				continue
			}
			c, err := b.condition(f)
			if err != nil {
				return nil, err
			}
			keyConds = append(keyConds, c)
			sortKeyBound = true
			continue
		}
		c, err := b.condition(f)
		if err != nil {
			return nil, err
		}
		filterConds = append(filterConds, c)
	}

	input := &sdk.QueryInput{
		TableName:                 &d.tableName,
		IndexName:                 aws.String(idx.IndexName),
		KeyConditionExpression:    aws.String(strings.Join(keyConds, " AND ")),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
		ScanIndexForward:          aws.Bool(q.Order.Direction == storagemodels.Ascending),
	}
	if len(filterConds) > 0 {
		input.FilterExpression = aws.String(strings.Join(filterConds, " AND "))
	}

	plan := &queryPlan{query: input}
	if len(residual.Filters) > 0 {
		plan.residual = residual
	}
	return plan, nil
}

// mustValue registers a string value; strings always marshal.
func mustValue(b *expressionBuilder, s string) string {
	p := fmt.Sprintf(":v%d", len(b.values))
	b.values[p] = &types.AttributeValueMemberS{Value: s}
	return p
}

// fetch reads one page of the plan starting after startKey.
func (p *queryPlan) fetch(ctx context.Context, client API, startKey map[string]types.AttributeValue, limit int32) ([]map[string]types.AttributeValue, map[string]types.AttributeValue, error) {
	if p.query != nil {
		input := *p.query
		input.ExclusiveStartKey = startKey
		if limit > 0 {
			input.Limit = aws.Int32(limit)
		}
		out, err := client.Query(ctx, &input)
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.LastEvaluatedKey, nil
	}

	input := *p.scan
	input.ExclusiveStartKey = startKey
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}
	out, err := client.Scan(ctx, &input)
	if err != nil {
		return nil, nil, err
	}
	return out.Items, out.LastEvaluatedKey, nil
}

// keep reports whether item passes the residual filters.
func (p *queryPlan) keep(item map[string]types.AttributeValue) (bool, error) {
	if p.residual == nil {
		return true, nil
	}
	return p.residual.Matches(item)
}
