// Package models holds the weights of models in host memory: Variable, the Store that collects them,
// and initializers to create them.
//
// Concrete models are implemented in sub-packages, see for instance models/bert.
//
// Example:
//
//	store := models.NewStore()
//	initializer := models.TruncatedNormalFn(seed, 0.02)
//	w := store.Create("dense.weight", shapes.Make(dtypes.Float32, 16, 8), initializer)
//	b := store.Create("dense.bias", shapes.Make(dtypes.Float32, 16), models.Zero)
//	fmt.Printf("%d variables, %d parameters\n", store.Len(), store.NumParameters())
package models
