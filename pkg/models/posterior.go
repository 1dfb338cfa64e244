package models

import (
	"github.com/GoSim-25-26J-441/experiment-design/pkg/utils"
)

// Posterior holds one MCMC chain of ModelParameterVector-shaped draws. Samples before
// BurnIn are kept for diagnostics but excluded from summaries.
type Posterior struct {
	Samples [][]float64 `json:"samples"`
	BurnIn  int         `json:"burn_in"`
}

// NewPosterior wraps a chain and sets the conventional burn-in of half its length.
func NewPosterior(samples [][]float64) *Posterior {
	return &Posterior{Samples: samples, BurnIn: len(samples) / 2}
}

// Len returns the number of draws in the chain, burn-in included.
func (p *Posterior) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Samples)
}

// NumParameters returns the dimension of each draw.
func (p *Posterior) NumParameters() int {
	if p == nil || len(p.Samples) == 0 {
		return 0
	}
	return len(p.Samples[0])
}

// Retained returns the draws after burn-in.
func (p *Posterior) Retained() [][]float64 {
	if p == nil {
		return nil
	}
	start := p.BurnIn
	if start < 0 {
		start = 0
	}
	if start > len(p.Samples) {
		start = len(p.Samples)
	}
	return p.Samples[start:]
}

// Marginal returns the post-burn-in draws of parameter i.
func (p *Posterior) Marginal(i int) []float64 {
	retained := p.Retained()
	out := make([]float64, len(retained))
	for k, draw := range retained {
		out[k] = draw[i]
	}
	return out
}

// Medians returns the per-parameter posterior median over the post-burn-in draws.
func (p *Posterior) Medians() []float64 {
	n := p.NumParameters()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = utils.Median(p.Marginal(i))
	}
	return out
}

// Clone returns a deep copy so a snapshot can outlive later refits.
func (p *Posterior) Clone() *Posterior {
	if p == nil {
		return nil
	}
	samples := make([][]float64, len(p.Samples))
	for i, draw := range p.Samples {
		samples[i] = utils.Clone(draw)
	}
	return &Posterior{Samples: samples, BurnIn: p.BurnIn}
}
