package qpacket

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrUnregistered is returned when encoding an object of an unknown type
// or decoding a custom value with an unknown id
var ErrUnregistered = errors.New("type not registered")

// An Object is an application type that can be encoded
// Convert returns the Value written as the object's payload
type Object interface {
	Convert() Value
}

// A ReconstructFunc rebuilds an object from a Decoder
// It must read exactly the values Convert produced
type ReconstructFunc func(d *Decoder) (Object, error)

// LibraryID returns the custom type id reserved for library types
func LibraryID(shift int64) int64 { return 1000 + shift }

type entry struct {
	id          int64
	reconstruct ReconstructFunc
}

// A Registry maps custom object types to ids and back
// Entries can only be added, never removed or reassigned
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]entry
	byID   map[int64]entry
}

// NewRegistry returns an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]entry),
		byID:   make(map[int64]entry),
	}
}

// Register adds the type of sample under id
func (r *Registry) Register(id int64, sample Object, reconstruct ReconstructFunc) error {
	if sample == nil || reconstruct == nil {
		return fmt.Errorf("register id %d: nil sample or reconstruct func", id)
	}

	t := reflect.TypeOf(sample)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byType[t]; ok {
		return fmt.Errorf("register id %d: type %s already registered", id, t)
	}
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("register %s: id %d already in use", t, id)
	}

	e := entry{id: id, reconstruct: reconstruct}
	r.byType[t] = e
	r.byID[id] = e

	return nil
}

// ID returns the id registered for the type of obj
func (r *Registry) ID(obj Object) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byType[reflect.TypeOf(obj)]
	return e.id, ok
}

func (r *Registry) lookup(id int64) (ReconstructFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byID[id]
	return e.reconstruct, ok
}
