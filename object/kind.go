// Package object implements the reference-counted heap object model shared by
// every value that flows through the tensorvm runtime.
//
// This package contains:
//   - Kind tags with an ancestor bitset for O(1) IsA checks
//   - The embeddable Header carrying the atomic reference count
//   - Ref[T], the owning smart handle (clone, move, detach, downcast)
package object

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Kind: run-time type tag
// ---------------------------------------------------------------------------

// Kind is the run-time type tag attached to every heap object. Kinds form an
// open tag space: any package may define new kinds that derive from existing
// ones.
type Kind struct {
	ID   uint32
	Name string

	bases     []*Kind
	ancestors bitset // includes ID itself
}

// IsA reports whether k is other or declares other somewhere in its base chain.
func (k *Kind) IsA(other *Kind) bool {
	if k == nil || other == nil {
		return false
	}
	return k.ancestors.has(other.ID)
}

// Bases returns the kinds k was declared with.
func (k *Kind) Bases() []*Kind {
	return k.bases
}

// String implements the Stringer interface.
func (k *Kind) String() string {
	if k == nil {
		return "<nil kind>"
	}
	return fmt.Sprintf("%s#%d", k.Name, k.ID)
}

// ---------------------------------------------------------------------------
// Kind registry
// ---------------------------------------------------------------------------

type kindRegistry struct {
	mu     sync.RWMutex
	byName map[string]*Kind
	all    []*Kind
}

var kinds = &kindRegistry{byName: make(map[string]*Kind)}

// DefineKind registers a new kind deriving from bases. Kind names are unique;
// redefining a name panics since kinds are declared once at package init.
func DefineKind(name string, bases ...*Kind) *Kind {
	kinds.mu.Lock()
	defer kinds.mu.Unlock()

	if _, exists := kinds.byName[name]; exists {
		panic(fmt.Sprintf("object: kind %q already defined", name))
	}

	k := &Kind{
		ID:    uint32(len(kinds.all)),
		Name:  name,
		bases: bases,
	}
	k.ancestors.set(k.ID)
	for _, b := range bases {
		k.ancestors.union(b.ancestors)
	}

	kinds.all = append(kinds.all, k)
	kinds.byName[name] = k
	return k
}

// LookupKind returns the kind registered under name.
func LookupKind(name string) (*Kind, bool) {
	kinds.mu.RLock()
	defer kinds.mu.RUnlock()
	k, ok := kinds.byName[name]
	return k, ok
}

// KindObject is the root of the kind tree.
var KindObject = DefineKind("object")

// ---------------------------------------------------------------------------
// bitset
// ---------------------------------------------------------------------------

type bitset []uint64

func (b *bitset) set(i uint32) {
	word := int(i / 64)
	for len(*b) <= word {
		*b = append(*b, 0)
	}
	(*b)[word] |= 1 << (i % 64)
}

func (b bitset) has(i uint32) bool {
	word := int(i / 64)
	if word >= len(b) {
		return false
	}
	return b[word]&(1<<(i%64)) != 0
}

func (b *bitset) union(other bitset) {
	for len(*b) < len(other) {
		*b = append(*b, 0)
	}
	for i, w := range other {
		(*b)[i] |= w
	}
}
