package utils

import (
	"math/rand"
	"sync"
	"time"
)

// RandSource is a thread-safe random number generator
type RandSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandSource creates a new random source with the given seed.
// A zero seed draws one from the wall clock.
func NewRandSource(seed int64) *RandSource {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandSource{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Float64 returns a random float64 in [0.0, 1.0)
func (r *RandSource) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}

// Int63 returns a non-negative random int64, used to derive child seeds
func (r *RandSource) Int63() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Int63()
}

// NormFloat64 returns a normally distributed random number with mean and stddev
func (r *RandSource) NormFloat64(mean, stddev float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.NormFloat64()*stddev + mean
}

// UniformFloat64 returns a uniformly distributed random number in [min, max)
func (r *RandSource) UniformFloat64(min, max float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + r.rng.Float64()*(max-min)
}

// NormVector draws one independent normal sample per coordinate:
// out[i] ~ N(mean[i], stddev[i]). stddev must have the same length as mean.
func (r *RandSource) NormVector(mean, stddev []float64) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(mean))
	for i := range mean {
		out[i] = r.rng.NormFloat64()*stddev[i] + mean[i]
	}
	return out
}

// UniformVector returns n samples from U[0, 1)
func (r *RandSource) UniformVector(n int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, n)
	for i := range out {
		out[i] = r.rng.Float64()
	}
	return out
}

// StandardNormalVector returns n samples from N(0, 1)
func (r *RandSource) StandardNormalVector(n int) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, n)
	for i := range out {
		out[i] = r.rng.NormFloat64()
	}
	return out
}
