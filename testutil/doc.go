// Package testutil provides testing utilities for huevec.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded, thread-safe RNG plus generators for synthetic
// RGB images and feature vectors with known statistics.
//
// # Synthetic Images
//
//	img := testutil.UniformImage(32, 32, 200, 40, 40)
//	img = testutil.GradientImage(32, 32, [3]uint8{0, 0, 0}, [3]uint8{255, 255, 255})
//
//	rng := testutil.NewRNG(seed)
//	img = rng.NoiseImage(32, 32)
//
// # Random Vectors
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(10, 84) // values in [0, 1)
package testutil
