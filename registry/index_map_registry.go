/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"reflect"
	"strings"
	"sync"
)

// IndexMapRegistry is a registry for Go document types and their key templates.

var (
	indexMapRegistry = make(map[reflect.Type]map[string]string)
	mu               sync.RWMutex
)

// RegisterIndexMap associates a Go type T with a key template map (PK, SK).
// Templates reference the document identifier with the {ID} macro.
func RegisterIndexMap[T any](idxMap map[string]string) {
	var zero T
	t := reflect.TypeOf(zero)

	copied := make(map[string]string, len(idxMap))
	for k, v := range idxMap {
		copied[k] = v
	}

	mu.Lock()
	defer mu.Unlock()
	indexMapRegistry[t] = copied
}

// GetIndexMap retrieves the indexMap for type T, if any.
func GetIndexMap[T any]() (map[string]string, bool) {
	var zero T
	t := reflect.TypeOf(zero)

	mu.RLock()
	defer mu.RUnlock()
	m, ok := indexMapRegistry[t]
	return m, ok
}

// IndexMapFor returns the registered indexMap for T, falling back to
// DefaultIndexMap(collection) when none is registered.
func IndexMapFor[T any](collection string) map[string]string {
	if m, ok := GetIndexMap[T](); ok {
		return m
	}
	return DefaultIndexMap(collection)
}

// DefaultIndexMap keys every document of collection by "<COLLECTION>#{ID}" in
// both PK and SK.
func DefaultIndexMap(collection string) map[string]string {
	prefix := strings.ToUpper(collection) + "#{ID}"
	return map[string]string{
		"PK": prefix,
		"SK": prefix,
	}
}

// UnregisterIndexMap removes the indexMap for T. Intended for tests.
func UnregisterIndexMap[T any]() {
	var zero T
	t := reflect.TypeOf(zero)

	mu.Lock()
	defer mu.Unlock()
	delete(indexMapRegistry, t)
}
