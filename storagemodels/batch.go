/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

// MutationKind selects what a staged Mutation does.
type MutationKind int

const (
	// MutationUpdate merges fields into an existing document.
	MutationUpdate MutationKind = iota
	// MutationDelete removes a document.
	MutationDelete
)

func (k MutationKind) String() string {
	if k == MutationDelete {
		return "delete"
	}
	return "update"
}

// Mutation is one blind write staged in a Batch.
type Mutation struct {
	Kind    MutationKind
	ID      string
	Updates Patch
}

// Batch collects mutations that a store commits all-or-nothing. It performs no
// reads; staged updates fail the whole batch if their document does not exist.
type Batch struct {
	mutations []Mutation
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// Update stages a field-level merge into document id.
func (b *Batch) Update(id string, updates Patch) *Batch {
	copied := make(Patch, len(updates))
	for k, v := range updates {
		copied[k] = v
	}
	b.mutations = append(b.mutations, Mutation{Kind: MutationUpdate, ID: id, Updates: copied})
	return b
}

// Delete stages the removal of document id.
func (b *Batch) Delete(id string) *Batch {
	b.mutations = append(b.mutations, Mutation{Kind: MutationDelete, ID: id})
	return b
}

// Mutations returns the staged mutations in staging order.
func (b *Batch) Mutations() []Mutation {
	out := make([]Mutation, len(b.mutations))
	copy(out, b.mutations)
	return out
}

// Len returns the number of staged mutations
func (b *Batch) Len() int {
	return len(b.mutations)
}

// Coalesce folds all mutations of the same document into one, in order of
// first appearance. Stores that reject two writes to one item per commit use
// it before sending. An update after a delete of the same document is reported
// through ok=false.
func (b *Batch) Coalesce() (merged []Mutation, ok bool) {
	index := make(map[string]int, len(b.mutations))
	for _, m := range b.mutations {
		i, seen := index[m.ID]
		if !seen {
			index[m.ID] = len(merged)
			cp := Mutation{Kind: m.Kind, ID: m.ID}
			if m.Kind == MutationUpdate {
				cp.Updates = make(Patch, len(m.Updates))
				for k, v := range m.Updates {
					cp.Updates[k] = v
				}
			}
			merged = append(merged, cp)
			continue
		}
		prev := &merged[i]
		switch {
		case m.Kind == MutationDelete:
			prev.Kind = MutationDelete
			prev.Updates = nil
		case prev.Kind == MutationDelete:
			return nil, false
		default:
			for k, v := range m.Updates {
				prev.Updates[k] = v
			}
		}
	}
	return merged, true
}
