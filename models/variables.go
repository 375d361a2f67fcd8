package models

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/recordml/recordml/types/shapes"
	"github.com/recordml/recordml/types/tensors"
)

// Variable (or weights) of a model, typically learned during training, but can also be used as large constants.
//
// Always use it by reference (pointer), never by value, so that updates to its value are seen by the model using it.
type Variable struct {
	name string

	// Trainable indicates whether the variable is trainable.
	Trainable bool

	shape shapes.Shape

	// mu protects value and initializer: values are only generated when first read.
	mu          sync.Mutex
	value       *tensors.Tensor
	initializer VariableInitializer
}

// NewVariable creates a trainable variable with the given name and value.
func NewVariable(name string, value *tensors.Tensor) *Variable {
	value.AssertValid()
	return &Variable{
		name:      name,
		Trainable: true,
		shape:     value.Shape().Clone(),
		value:     value,
	}
}

// newLazyVariable creates a trainable variable whose value is only generated by initializer when first read.
func newLazyVariable(name string, shape shapes.Shape, initializer VariableInitializer) *Variable {
	if !shape.Ok() {
		exceptions.Panicf("models.Variable %q created with invalid shape", name)
	}
	return &Variable{
		name:        name,
		Trainable:   true,
		shape:       shape.Clone(),
		initializer: initializer,
	}
}

// Name of the variable within the model.
func (v *Variable) Name() string {
	if v == nil {
		return "<nil>"
	}
	return v.name
}

// String implements stringer.
func (v *Variable) String() string {
	if v == nil || !v.Shape().Ok() {
		return "INVALID (NIL) VARIABLE"
	}
	return fmt.Sprintf("%s: %s", v.Name(), v.shape)
}

// IsValid returns whether the variable is holding a valid value.
func (v *Variable) IsValid() bool {
	if v == nil {
		return false
	}
	return v.shape.Ok()
}

// AssertValid panics if the variable is in an invalid state: if it's nil, or if it's shape is not yet set.
func (v *Variable) AssertValid() {
	if v == nil {
		exceptions.Panicf("models.Variable is nil")
	}
	if !v.Shape().Ok() {
		exceptions.Panicf("models.Variable %q has no shape", v.name)
	}
}

// Shape returns the variable shape.
func (v *Variable) Shape() shapes.Shape {
	if v == nil {
		return shapes.Shape{}
	}
	return v.shape
}

// DType returns the variable DType.
func (v *Variable) DType() dtypes.DType {
	if v == nil {
		return dtypes.InvalidDType
	}
	return v.shape.DType
}

// IsInitialized returns whether the value of the variable has already been generated or set.
func (v *Variable) IsInitialized() bool {
	v.AssertValid()
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value != nil
}

// Value returns the current value of the variable. It must not be modified.
//
// If the variable has not been set yet, its value is generated by its initializer.
func (v *Variable) Value() *tensors.Tensor {
	v.AssertValid()
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.value == nil {
		value := v.initializer(v.shape)
		if !value.Shape().Equal(v.shape) {
			exceptions.Panicf("models.Variable %q: initializer returned shape %s, wanted %s", v.name, value.Shape(), v.shape)
		}
		v.value = value
		v.initializer = nil
	}
	return v.value
}

// SetValue replaces the value of the variable. The new value must have the same shape.
func (v *Variable) SetValue(value *tensors.Tensor) error {
	v.AssertValid()
	if value == nil || !value.Shape().Equal(v.shape) {
		var got shapes.Shape
		if value != nil {
			got = value.Shape()
		}
		return errors.Errorf("variable %q has shape %s, can't set it to a value shaped %s", v.name, v.shape, got)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
	v.initializer = nil
	return nil
}

// Store holds the variables of a model, in the order they were created.
type Store struct {
	vars   []*Variable
	byName map[string]*Variable
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{byName: make(map[string]*Variable)}
}

// Add a variable to the store. It panics if a variable with the same name already exists.
func (s *Store) Add(v *Variable) *Variable {
	v.AssertValid()
	if _, found := s.byName[v.name]; found {
		exceptions.Panicf("models.Store: variable %q already exists", v.name)
	}
	s.vars = append(s.vars, v)
	s.byName[v.name] = v
	return v
}

// Create a trainable variable named name, shaped as shape, with the value generated by initializer.
//
// The value is only generated when first read (see Variable.Value), so creating large models whose
// weights are later loaded from a checkpoint is cheap. With seeded initializers, the values depend on
// the order in which variables are first read.
func (s *Store) Create(name string, shape shapes.Shape, initializer VariableInitializer) *Variable {
	return s.Add(newLazyVariable(name, shape, initializer))
}

// Get returns the variable with the given name, or nil if not found.
func (s *Store) Get(name string) *Variable {
	return s.byName[name]
}

// Len returns the number of variables.
func (s *Store) Len() int { return len(s.vars) }

// Variables returns all variables, in creation order.
func (s *Store) Variables() []*Variable { return slices.Clone(s.vars) }

// Trainable returns the trainable variables, in creation order.
func (s *Store) Trainable() []*Variable {
	var trainable []*Variable
	for _, v := range s.vars {
		if v.Trainable {
			trainable = append(trainable, v)
		}
	}
	return trainable
}

// All iterates over all variables in creation order.
func (s *Store) All() iter.Seq2[string, *Variable] {
	return func(yield func(string, *Variable) bool) {
		for _, v := range s.vars {
			if !yield(v.name, v) {
				return
			}
		}
	}
}

// NumParameters returns the total number of scalar values held by the variables.
func (s *Store) NumParameters() (total int) {
	for _, v := range s.vars {
		total += v.shape.Size()
	}
	return
}
