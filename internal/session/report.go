package session

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
)

// Trend labels for a sequence of identifiability scores.
const (
	TrendImproving = "improving"
	TrendDegrading = "degrading"
	TrendStable    = "stable"
)

// trendSlope is the relative per-iteration slope below which scores count as stable.
const trendSlope = 0.01

// ParameterComparison contrasts the marginal posterior of one parameter under the
// starting protocol and under the optimized protocol.
type ParameterComparison struct {
	Index        int     `json:"index"`
	Name         string  `json:"name,omitempty"`
	True         float64 `json:"true"`
	BeforeMedian float64 `json:"before_median"`
	AfterMedian  float64 `json:"after_median"`
	BeforeStdDev float64 `json:"before_std_dev"`
	AfterStdDev  float64 `json:"after_std_dev"`
	// BeforeCV and AfterCV are the coefficients of variation std/|mean|.
	BeforeCV  float64 `json:"before_cv"`
	AfterCV   float64 `json:"after_cv"`
	Tightened bool    `json:"tightened"`
}

// Report summarizes a session: the adopted protocol, its identifiability score
// compared to the starting protocol, and the posterior before and after.
type Report struct {
	SessionID       string                `json:"session_id"`
	State           State                 `json:"state"`
	Iterations      int                   `json:"iterations"`
	ParamNames      []string              `json:"param_names,omitempty"`
	TrueParams      []float64             `json:"true_params"`
	ModelParams     []float64             `json:"model_params"`
	InitialProtocol []float64             `json:"initial_protocol"`
	ProtocolParams  []float64             `json:"protocol_params"`
	InitialScore    float64               `json:"initial_score"`
	OptimizedScore  float64               `json:"optimized_score"`
	Improvement     float64               `json:"improvement_percent"`
	Trend           string                `json:"trend"`
	Records         []IterationRecord     `json:"records,omitempty"`
	Parameters      []ParameterComparison `json:"parameters,omitempty"`
}

// Report scores the starting and current protocols at the current model parameters
// and, when both a baseline and a refit exist, compares their posteriors.
func (s *Session) Report() (*Report, error) {
	s.mu.RLock()
	r := &Report{
		SessionID:       s.id,
		State:           s.state,
		Iterations:      s.iteration,
		ParamNames:      append([]string(nil), s.names...),
		TrueParams:      append([]float64(nil), s.trueParams...),
		ModelParams:     append([]float64(nil), s.modelParams...),
		InitialProtocol: append([]float64(nil), s.initialProtocol...),
		ProtocolParams:  append([]float64(nil), s.protocolParams...),
		Records:         append([]IterationRecord(nil), s.records...),
	}
	baseline, latest := s.baseline, s.latest
	s.mu.RUnlock()

	objective, err := s.objective.AtModelParams(r.ModelParams)
	if err != nil {
		return nil, err
	}
	scores, err := objective.EvaluateBatch([][]float64{r.InitialProtocol, r.ProtocolParams})
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	r.InitialScore, r.OptimizedScore = scores[0], scores[1]
	r.Improvement = ImprovementPercentage(r.InitialScore, r.OptimizedScore)

	best := make([]float64, len(r.Records))
	for i, rec := range r.Records {
		best[i] = rec.BestScore
	}
	r.Trend = DetermineTrend(best)

	if baseline != nil && latest != nil {
		r.Parameters, err = ComparePosteriors(baseline.Result.Posterior, latest.Result.Posterior, r.ParamNames, r.TrueParams)
		if err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ComparePosteriors summarizes each marginal of before and after. names may be empty.
func ComparePosteriors(before, after *models.Posterior, names []string, truth []float64) ([]ParameterComparison, error) {
	if before == nil || after == nil {
		return nil, fmt.Errorf("compare posteriors: posterior is nil")
	}
	n := before.NumParameters()
	if after.NumParameters() != n {
		return nil, &models.InputShapeError{Op: "compare posteriors", Field: "after", Want: n, Got: after.NumParameters()}
	}
	if len(truth) != n {
		return nil, &models.InputShapeError{Op: "compare posteriors", Field: "true params", Want: n, Got: len(truth)}
	}

	beforeMedians, afterMedians := before.Medians(), after.Medians()
	out := make([]ParameterComparison, n)
	for i := 0; i < n; i++ {
		bMean, bStd := stat.MeanStdDev(before.Marginal(i), nil)
		aMean, aStd := stat.MeanStdDev(after.Marginal(i), nil)
		c := ParameterComparison{
			Index:        i,
			True:         truth[i],
			BeforeMedian: beforeMedians[i],
			AfterMedian:  afterMedians[i],
			BeforeStdDev: finiteOrZero(bStd),
			AfterStdDev:  finiteOrZero(aStd),
			BeforeCV:     coefficientOfVariation(bMean, bStd),
			AfterCV:      coefficientOfVariation(aMean, aStd),
		}
		if i < len(names) {
			c.Name = names[i]
		}
		c.Tightened = c.AfterStdDev < c.BeforeStdDev
		out[i] = c
	}
	return out, nil
}

// ImprovementPercentage returns how much lower after is than before, in percent of
// before. Scores are minimized, so a positive value is an improvement.
func ImprovementPercentage(before, after float64) float64 {
	if before == 0 || math.IsInf(before, 0) || math.IsNaN(before) {
		return 0
	}
	return -(after - before) / math.Abs(before) * 100
}

// DetermineTrend fits a least-squares line through scores and classifies its slope
// relative to the mean score magnitude.
func DetermineTrend(scores []float64) string {
	if len(scores) < 2 {
		return TrendStable
	}
	xs := make([]float64, len(scores))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, scores, nil, false)

	scale := math.Abs(stat.Mean(scores, nil))
	if scale > 0 {
		slope /= scale
	}
	switch {
	case math.IsNaN(slope):
		return TrendStable
	case slope < -trendSlope:
		return TrendImproving
	case slope > trendSlope:
		return TrendDegrading
	}
	return TrendStable
}

func coefficientOfVariation(mean, std float64) float64 {
	if mean == 0 || math.IsNaN(std) {
		return 0
	}
	return std / math.Abs(mean)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
