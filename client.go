/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package userstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/suparena/userstore/dispatch"
	"github.com/suparena/userstore/storagemodels"
)

// SavedMessage is reported when a write succeeds.
const SavedMessage = "Successfully saved data."

// Operation names used for dispatch metrics and logs
const (
	OpCreate        = "create"
	OpGet           = "get"
	OpReadRange     = "read_range"
	OpUpdateByMatch = "update_by_match"
	OpDeleteByMatch = "delete_by_match"
	OpIncrementAge  = "increment_age"
	OpChangeName    = "change_name"
)

// Client runs Repository operations in the background and delivers their
// outcomes on the bridge's foreground loop. Operations cannot be cancelled
// once submitted.
type Client struct {
	repo   *Repository
	bridge *dispatch.Bridge
}

// NewClient creates a Client submitting to bridge
func NewClient(repo *Repository, bridge *dispatch.Bridge) *Client {
	return &Client{repo: repo, bridge: bridge}
}

// Created is the value of a successful Create
type Created struct {
	ID string
}

func (c Created) Message() string {
	return SavedMessage
}

// Users is the value of ReadRange and Get
type Users []storagemodels.Snapshot[storagemodels.User]

// Message lists one user per line
func (u Users) Message() string {
	if len(u) == 0 {
		return "No users found."
	}
	var sb strings.Builder
	for i, snap := range u {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", snap.ID, snap.Data)
	}
	return sb.String()
}

// Saved is the value of writes that return nothing else
type Saved struct{}

func (Saved) Message() string {
	return SavedMessage
}

// AgeChange is the value of IncrementAge
type AgeChange struct {
	ID  string
	Age int
}

func (a AgeChange) Message() string {
	return fmt.Sprintf("%s Age is now %d.", SavedMessage, a.Age)
}

// Create submits Repository.Create
func (c *Client) Create(user storagemodels.User) *dispatch.Task[Created] {
	return dispatch.Submit(c.bridge, OpCreate, func(ctx context.Context) (Created, error) {
		id, err := c.repo.Create(ctx, user)
		return Created{ID: id}, err
	})
}

// Get submits Repository.Get
func (c *Client) Get(id string) *dispatch.Task[Users] {
	return dispatch.Submit(c.bridge, OpGet, func(ctx context.Context) (Users, error) {
		snap, err := c.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return Users{*snap}, nil
	})
}

// ReadRange submits Repository.ReadRange
func (c *Client) ReadRange(from, to int) *dispatch.Task[Users] {
	return dispatch.Submit(c.bridge, OpReadRange, func(ctx context.Context) (Users, error) {
		users, err := c.repo.ReadRange(ctx, from, to)
		return Users(users), err
	})
}

// UpdateByMatch submits Repository.UpdateByMatch
func (c *Client) UpdateByMatch(match storagemodels.User, patch storagemodels.Patch, opts ...MatchOption) *dispatch.Task[*MatchResult] {
	return dispatch.Submit(c.bridge, OpUpdateByMatch, func(ctx context.Context) (*MatchResult, error) {
		return c.repo.UpdateByMatch(ctx, match, patch, opts...)
	})
}

// DeleteByMatch submits Repository.DeleteByMatch
func (c *Client) DeleteByMatch(match storagemodels.User, opts ...MatchOption) *dispatch.Task[*MatchResult] {
	return dispatch.Submit(c.bridge, OpDeleteByMatch, func(ctx context.Context) (*MatchResult, error) {
		return c.repo.DeleteByMatch(ctx, match, opts...)
	})
}

// IncrementAge submits Repository.IncrementAge
func (c *Client) IncrementAge(id string) *dispatch.Task[AgeChange] {
	return dispatch.Submit(c.bridge, OpIncrementAge, func(ctx context.Context) (AgeChange, error) {
		age, err := c.repo.IncrementAge(ctx, id)
		return AgeChange{ID: id, Age: age}, err
	})
}

// ChangeName submits Repository.ChangeName
func (c *Client) ChangeName(id, firstName, lastName string) *dispatch.Task[Saved] {
	return dispatch.Submit(c.bridge, OpChangeName, func(ctx context.Context) (Saved, error) {
		return Saved{}, c.repo.ChangeName(ctx, id, firstName, lastName)
	})
}
