package graph

import (
	"fmt"
	"maps"
	"reflect"
	"sync"
)

// State keys owned by the engine itself. Domain keys live with the graph
// that declares them.
const (
	// StateKeyNodeOutput carries the externally visible text of the node
	// that just ran. Progress events read it from the node's partial
	// update, never from merged state, so stale output is never re-emitted.
	StateKeyNodeOutput = "node_output"
	// StateKeyLastResponse is the final user-facing answer of the run and
	// becomes the completion event payload.
	StateKeyLastResponse = "last_response"
)

// State is the run-scoped key/value store that flows through the graph.
// A key that is present with a nil value is distinct from an absent key.
type State map[string]any

// Clone creates a shallow copy of the state.
func (s State) Clone() State {
	clone := make(State, len(s))
	maps.Copy(clone, s)
	return clone
}

// StateReducer merges an update into the existing value for one key.
type StateReducer func(existing, update any) any

// StateField defines a field in the state schema with its type and merge
// policy.
type StateField struct {
	Type     reflect.Type
	Reducer  StateReducer
	Default  func() any
	Required bool
}

// StateSchema declares the keys a graph's state may hold and how updates
// to each key merge.
type StateSchema struct {
	mu     sync.RWMutex
	fields map[string]StateField
}

// NewStateSchema creates an empty state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{fields: make(map[string]StateField)}
}

// AddField declares a field. A nil reducer defaults to replace-on-write.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if field.Reducer == nil {
		field.Reducer = ReplaceReducer
	}
	s.fields[name] = field
	return s
}

// Field returns the declared field for a key.
func (s *StateSchema) Field(name string) (StateField, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fields[name]
	return f, ok
}

// ApplyUpdate merges a partial update into the current state using the
// declared reducers. Undeclared keys fall back to replace-on-write.
func (s *StateSchema) ApplyUpdate(current State, update State) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := current.Clone()
	for key, updateValue := range update {
		field, exists := s.fields[key]
		if !exists {
			result[key] = updateValue
			continue
		}
		currentValue, hasCurrent := result[key]
		if !hasCurrent && field.Default != nil {
			currentValue = field.Default()
		}
		result[key] = field.Reducer(currentValue, updateValue)
	}
	return result
}

// Validate checks a state against the schema's type and presence rules.
func (s *StateSchema) Validate(state State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, field := range s.fields {
		value, exists := state[name]
		if field.Required && !exists {
			return fmt.Errorf("required field %s is missing", name)
		}
		if exists && value != nil && field.Type != nil {
			valueType := reflect.TypeOf(value)
			if !valueType.AssignableTo(field.Type) {
				return fmt.Errorf("field %s has wrong type: expected %v, got %v",
					name, field.Type, valueType)
			}
		}
	}
	return nil
}

// ReplaceReducer is the only merge policy the workflow uses: a node's
// returned value fully overwrites the previous one.
func ReplaceReducer(existing, update any) any {
	return update
}
