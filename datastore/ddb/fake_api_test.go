/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"sync"

	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// fakeAPI records requests and answers them with the configured functions.
type fakeAPI struct {
	mu sync.Mutex

	getItem  func(*sdk.GetItemInput) (*sdk.GetItemOutput, error)
	putItem  func(*sdk.PutItemInput) (*sdk.PutItemOutput, error)
	query    func(*sdk.QueryInput) (*sdk.QueryOutput, error)
	scan     func(*sdk.ScanInput) (*sdk.ScanOutput, error)
	transact func(*sdk.TransactWriteItemsInput) (*sdk.TransactWriteItemsOutput, error)

	updates   []*sdk.UpdateItemInput
	deletes   []*sdk.DeleteItemInput
	scans     []*sdk.ScanInput
	transacts []*sdk.TransactWriteItemsInput
}

var errNotConfigured = fmt.Errorf("fake: call not configured")

func (f *fakeAPI) GetItem(_ context.Context, in *sdk.GetItemInput, _ ...func(*sdk.Options)) (*sdk.GetItemOutput, error) {
	if f.getItem == nil {
		return &sdk.GetItemOutput{}, nil
	}
	return f.getItem(in)
}

func (f *fakeAPI) PutItem(_ context.Context, in *sdk.PutItemInput, _ ...func(*sdk.Options)) (*sdk.PutItemOutput, error) {
	if f.putItem == nil {
		return &sdk.PutItemOutput{}, nil
	}
	return f.putItem(in)
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *sdk.UpdateItemInput, _ ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	return &sdk.UpdateItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *sdk.DeleteItemInput, _ ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, in)
	return &sdk.DeleteItemOutput{}, nil
}

func (f *fakeAPI) Query(_ context.Context, in *sdk.QueryInput, _ ...func(*sdk.Options)) (*sdk.QueryOutput, error) {
	if f.query == nil {
		return nil, errNotConfigured
	}
	return f.query(in)
}

func (f *fakeAPI) Scan(_ context.Context, in *sdk.ScanInput, _ ...func(*sdk.Options)) (*sdk.ScanOutput, error) {
	f.mu.Lock()
	f.scans = append(f.scans, in)
	f.mu.Unlock()
	if f.scan == nil {
		return nil, errNotConfigured
	}
	return f.scan(in)
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *sdk.TransactWriteItemsInput, _ ...func(*sdk.Options)) (*sdk.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	f.transacts = append(f.transacts, in)
	f.mu.Unlock()
	if f.transact == nil {
		return &sdk.TransactWriteItemsOutput{}, nil
	}
	return f.transact(in)
}
