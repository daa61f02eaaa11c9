/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suparena/userstore/datastore"
	storeerrors "github.com/suparena/userstore/errors"
	"github.com/suparena/userstore/registry"
	"github.com/suparena/userstore/storagemodels"
)

// API is the subset of the DynamoDB client used by DynamodbDataStore.
type API interface {
	GetItem(ctx context.Context, params *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
	PutItem(ctx context.Context, params *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *sdk.UpdateItemInput, optFns ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	Query(ctx context.Context, params *sdk.QueryInput, optFns ...func(*sdk.Options)) (*sdk.QueryOutput, error)
	Scan(ctx context.Context, params *sdk.ScanInput, optFns ...func(*sdk.Options)) (*sdk.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *sdk.TransactWriteItemsInput, optFns ...func(*sdk.Options)) (*sdk.TransactWriteItemsOutput, error)
}

// DynamodbDataStore implements datastore.DataStore[T] on one DynamoDB table.
// Several collections may share the table; each item carries its collection
// name and its keys are expanded from the registry index map.
type DynamodbDataStore[T any] struct {
	client      API
	tableName   string
	collection  string
	indexMap    map[string]string
	indexes     map[string]GSIConfig
	maxAttempts int
	txBackoff   time.Duration
	idFunc      func() string
	logger      *zap.Logger
}

var _ datastore.DataStore[storagemodels.User] = (*DynamodbDataStore[storagemodels.User])(nil)

// Options configures a DynamodbDataStore
type Options struct {
	// Indexes maps an orderable field to the GSI sorting the collection by it.
	Indexes map[string]GSIConfig
	// MaxTransactionAttempts bounds how often a conflicting transaction is re-run.
	MaxTransactionAttempts int
	// TransactionBackoff is the initial wait before re-running a transaction.
	TransactionBackoff time.Duration
	// IDFunc generates identifiers for Add.
	IDFunc func() string
	Logger *zap.Logger
}

// Option mutates Options
type Option func(*Options)

// WithIndexes replaces the ordered-field index configuration
func WithIndexes(indexes map[string]GSIConfig) Option {
	return func(o *Options) {
		o.Indexes = indexes
	}
}

// WithMaxTransactionAttempts sets how many times a transaction body may run
func WithMaxTransactionAttempts(n int) Option {
	return func(o *Options) {
		o.MaxTransactionAttempts = n
	}
}

// WithTransactionBackoff sets the initial backoff between transaction attempts
func WithTransactionBackoff(d time.Duration) Option {
	return func(o *Options) {
		o.TransactionBackoff = d
	}
}

// WithIDFunc sets the identifier generator
func WithIDFunc(f func() string) Option {
	return func(o *Options) {
		o.IDFunc = f
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

var macroPattern = regexp.MustCompile(`{([^}]+)}`)

// NewDynamoDBClient initializes a DynamoDB client. Static credentials are used
// when awsAccessKey is set, the default provider chain otherwise. A non-empty
// endpoint overrides the service endpoint (DynamoDB Local, LocalStack).
func NewDynamoDBClient(ctx context.Context, awsAccessKey, awsSecretKey, awsRegion, endpoint string) (*sdk.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(awsRegion),
	}
	if awsAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(awsAccessKey, awsSecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	var clientOpts []func(*sdk.Options)
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *sdk.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return sdk.NewFromConfig(cfg, clientOpts...), nil
}

// NewDynamodbDataStore constructs a DynamodbDataStore for type T bound to collection.
func NewDynamodbDataStore[T any](client API, tableName, collection string, opts ...Option) (*DynamodbDataStore[T], error) {
	if client == nil {
		return nil, storeerrors.NewValidationError("client", "DynamoDB client is required")
	}
	if tableName == "" {
		return nil, storeerrors.NewValidationError("tableName", "table name is required")
	}
	if collection == "" {
		return nil, storeerrors.NewValidationError("collection", "collection name is required")
	}

	options := Options{
		Indexes:                DefaultGSIConfigs(),
		MaxTransactionAttempts: 5,
		TransactionBackoff:     50 * time.Millisecond,
		IDFunc:                 uuid.NewString,
		Logger:                 zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.MaxTransactionAttempts < 1 {
		options.MaxTransactionAttempts = 1
	}

	indexMap := registry.IndexMapFor[T](collection)
	for _, k := range []string{"PK", "SK"} {
		if !macroPattern.MatchString(indexMap[k]) {
			return nil, storeerrors.NewValidationError(k, fmt.Sprintf("key template %q has no {ID} macro", indexMap[k]))
		}
	}

	return &DynamodbDataStore[T]{
		client:      client,
		tableName:   tableName,
		collection:  collection,
		indexMap:    indexMap,
		indexes:     options.Indexes,
		maxAttempts: options.MaxTransactionAttempts,
		txBackoff:   options.TransactionBackoff,
		idFunc:      options.IDFunc,
		logger:      options.Logger.With(zap.String("table", tableName), zap.String("collection", collection)),
	}, nil
}

// Collection returns the bound collection name
func (d *DynamodbDataStore[T]) Collection() string {
	return d.collection
}

// Add stores entity under a new identifier. The write is conditional on the
// key being unused.
func (d *DynamodbDataStore[T]) Add(ctx context.Context, entity T) (string, error) {
	av, err := attributevalue.MarshalMap(entity)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entity: %w", err)
	}

	id := d.idFunc()
	key, err := d.key(id)
	if err != nil {
		return "", err
	}
	for k, v := range key {
		av[k] = v
	}
	for k, v := range d.systemAttributes(id) {
		av[k] = v
	}
	av[storagemodels.AttrRevision] = &types.AttributeValueMemberN{Value: "1"}

	_, err = d.client.PutItem(ctx, &sdk.PutItemInput{
		TableName:                &d.tableName,
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": "PK"},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return "", storeerrors.NewAlreadyExistsError(d.collection, id)
		}
		return "", storeerrors.NewRemoteError("PutItem", err)
	}

	d.logger.Debug("document added", zap.String("id", id))
	return id, nil
}

// GetOne retrieves a single document with a strongly consistent read.
func (d *DynamodbDataStore[T]) GetOne(ctx context.Context, id string) (*storagemodels.Snapshot[T], error) {
	item, err := d.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, storeerrors.NewNotFoundError(d.collection, id)
	}
	return d.decode(item)
}

func (d *DynamodbDataStore[T]) getItem(ctx context.Context, id string) (map[string]types.AttributeValue, error) {
	key, err := d.key(id)
	if err != nil {
		return nil, err
	}

	out, err := d.client.GetItem(ctx, &sdk.GetItemInput{
		TableName:      &d.tableName,
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, storeerrors.NewRemoteError("GetItem", err)
	}
	return out.Item, nil
}

// Merge writes the given fields into document id with UpdateItem, which
// creates the item when it does not exist yet.
func (d *DynamodbDataStore[T]) Merge(ctx context.Context, id string, updates storagemodels.Patch) error {
	key, err := d.key(id)
	if err != nil {
		return err
	}

	updateExpr, exprAttrNames, exprAttrValues, err := buildUpdateExpression(updates, d.systemAttributes(id))
	if err != nil {
		return fmt.Errorf("failed to build update expression: %w", err)
	}

	_, err = d.client.UpdateItem(ctx, &sdk.UpdateItemInput{
		TableName:                 &d.tableName,
		Key:                       key,
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  exprAttrNames,
		ExpressionAttributeValues: exprAttrValues,
	})
	if err != nil {
		return storeerrors.NewRemoteError("UpdateItem", err)
	}

	d.logger.Debug("document merged", zap.String("id", id), zap.Strings("fields", updates.Fields()))
	return nil
}

// Delete removes an item. Deleting a missing item succeeds.
func (d *DynamodbDataStore[T]) Delete(ctx context.Context, id string) error {
	key, err := d.key(id)
	if err != nil {
		return err
	}

	_, err = d.client.DeleteItem(ctx, &sdk.DeleteItemInput{
		TableName: &d.tableName,
		Key:       key,
	})
	if err != nil {
		return storeerrors.NewRemoteError("DeleteItem", err)
	}

	d.logger.Debug("document deleted", zap.String("id", id))
	return nil
}

// key expands the index map for id into the table's primary key.
func (d *DynamodbDataStore[T]) key(id string) (map[string]types.AttributeValue, error) {
	if id == "" {
		return nil, storeerrors.NewValidationError("id", "document identifier is required")
	}
	return buildKeyFromExpanded(expandStringKey(d.indexMap, id))
}

func (d *DynamodbDataStore[T]) systemAttributes(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		storagemodels.AttrID:         &types.AttributeValueMemberS{Value: id},
		storagemodels.AttrCollection: &types.AttributeValueMemberS{Value: d.collection},
		storagemodels.AttrUpdatedAt:  &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
	}
}

// decode turns a raw item into a Snapshot. Attributes that are not fields of
// T (keys, revision, collection) are ignored by the unmarshaler.
func (d *DynamodbDataStore[T]) decode(item map[string]types.AttributeValue) (*storagemodels.Snapshot[T], error) {
	snap := &storagemodels.Snapshot[T]{}
	if err := attributevalue.UnmarshalMap(item, &snap.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	if attr, ok := item[storagemodels.AttrID]; ok {
		if err := attributevalue.Unmarshal(attr, &snap.ID); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", storagemodels.AttrID, err)
		}
	}
	if attr, ok := item[storagemodels.AttrUpdatedAt].(*types.AttributeValueMemberS); ok {
		if ts, err := strfmt.ParseDateTime(attr.Value); err == nil {
			snap.UpdateTime = ts
		}
	}
	return snap, nil
}

// revisionOf returns the revision counter stored on item, 0 if absent.
func revisionOf(item map[string]types.AttributeValue) (int64, error) {
	attr, ok := item[storagemodels.AttrRevision]
	if !ok {
		return 0, nil
	}
	var rev int64
	if err := attributevalue.Unmarshal(attr, &rev); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", storagemodels.AttrRevision, err)
	}
	return rev, nil
}

// buildUpdateExpression transforms a patch into:
//   - an "update expression" (e.g., "SET #f0 = :v0, #s0 = :s0 ADD #rev :one")
//   - a corresponding map of expression attribute names
//   - a corresponding map of expression attribute values
//
// Patch fields and system attributes are assigned placeholders in sorted order
// so the expression is stable. The revision counter is always incremented, so
// an empty patch still produces a write.
func buildUpdateExpression(updates storagemodels.Patch, system map[string]types.AttributeValue) (string,
	map[string]string,
	map[string]types.AttributeValue,
	error) {

	setClauses := make([]string, 0, len(updates)+len(system))
	exprAttrNames := map[string]string{"#rev": storagemodels.AttrRevision}
	exprAttrValues := map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}}

	for i, field := range updates.Fields() {
		if strings.HasPrefix(field, "_") {
			return "", nil, nil, storeerrors.NewValidationError(field, "field names starting with '_' are reserved")
		}
		av, err := attributevalue.Marshal(updates[field])
		if err != nil {
			return "", nil, nil, fmt.Errorf("unhandled update value type for field '%s': %w", field, err)
		}

		placeholderName := fmt.Sprintf("#f%d", i)
		placeholderValue := fmt.Sprintf(":v%d", i)
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", placeholderName, placeholderValue))
		exprAttrNames[placeholderName] = field
		exprAttrValues[placeholderValue] = av
	}

	names := make([]string, 0, len(system))
	for name := range system {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		placeholderName := fmt.Sprintf("#s%d", i)
		placeholderValue := fmt.Sprintf(":s%d", i)
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", placeholderName, placeholderValue))
		exprAttrNames[placeholderName] = name
		exprAttrValues[placeholderValue] = system[name]
	}

	updateExpr := "ADD #rev :one"
	if len(setClauses) > 0 {
		updateExpr = "SET " + strings.Join(setClauses, ", ") + " " + updateExpr
	}
	return updateExpr, exprAttrNames, exprAttrValues, nil
}

// buildKeyFromExpanded builds a DynamoDB key from the expanded index map.
// It assumes that the expanded map has valid non-empty values for "PK" and "SK".
func buildKeyFromExpanded(expanded map[string]string) (map[string]types.AttributeValue, error) {
	pk, okPK := expanded["PK"]
	sk, okSK := expanded["SK"]

	if !okPK || !okSK || pk == "" || sk == "" {
		return nil, fmt.Errorf("expanded index map missing valid PK or SK")
	}

	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}, nil
}

// expandStringKey replaces macro patterns in the indexMap values with the provided key.
func expandStringKey(indexMap map[string]string, key string) map[string]string {
	expanded := make(map[string]string, len(indexMap))
	for field, template := range indexMap {
		expanded[field] = macroPattern.ReplaceAllLiteralString(template, key)
	}
	return expanded
}
