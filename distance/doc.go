// Package distance provides distance metrics for comparing color
// feature vectors and aggregated word means.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricL1: City-block distance, a common choice for histograms
//   - MetricCosine: Cosine distance (1 - cosine similarity)
//
// # Usage
//
//	dist := distance.SquaredL2(a, b)
//	fn, err := distance.Provider(distance.MetricCosine)
package distance
