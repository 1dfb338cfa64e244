// Package identifiability scores stimulation protocols by how well the observations
// they produce constrain the model parameters. The score is a Cramér-Rao style bound
// built from the Fisher information of the output sensitivities: lower is better.
package identifiability

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/GoSim-25-26J-441/experiment-design/internal/metrics"
	"github.com/GoSim-25-26J-441/experiment-design/internal/sensitivity"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/logger"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/models"
	"github.com/GoSim-25-26J-441/experiment-design/pkg/utils"
)

const (
	// DefaultNoiseSigma is the assumed observation noise standard deviation.
	DefaultNoiseSigma = 0.1
	// DefaultSingularPenalty replaces every inverse-diagonal entry when the Fisher
	// matrix cannot be inverted.
	DefaultSingularPenalty = 1e10
	// DefaultRegularization weights the L2 norm of the protocol parameters.
	DefaultRegularization = 1e-3
)

// Evaluation is the breakdown of one objective evaluation.
type Evaluation struct {
	Score          float64   `json:"score"`
	CRLB           float64   `json:"crlb"`
	Regularization float64   `json:"regularization"`
	VarianceBounds []float64 `json:"variance_bounds"`
	Singular       bool      `json:"singular"`
}

// Objective maps protocol parameters to an identifiability score at a fixed model
// parameter linearization point. It is immutable once built and safe for concurrent use.
type Objective struct {
	engine         *sensitivity.Engine
	factory        models.ProtocolFactory
	modelParams    []float64
	times          []float64
	x0             float64
	sigma          float64
	penalty        float64
	regularization float64
	workers        int
	logger         *slog.Logger
}

// Option configures an Objective.
type Option func(*Objective)

// WithNoiseSigma sets the assumed observation noise. Non-positive values are ignored.
func WithNoiseSigma(sigma float64) Option {
	return func(o *Objective) {
		if sigma > 0 {
			o.sigma = sigma
		}
	}
}

// WithSingularPenalty sets the inverse-diagonal substitute for singular matrices.
func WithSingularPenalty(penalty float64) Option {
	return func(o *Objective) {
		if penalty > 0 {
			o.penalty = penalty
		}
	}
}

// WithRegularization sets the weight of the protocol L2 term.
func WithRegularization(weight float64) Option {
	return func(o *Objective) {
		if weight >= 0 {
			o.regularization = weight
		}
	}
}

// WithWorkers bounds concurrent row evaluations in EvaluateBatch. Zero means GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *Objective) {
		o.workers = n
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *Objective) {
		o.logger = l
	}
}

// NewObjective builds an objective evaluated at modelParams over times.
func NewObjective(engine *sensitivity.Engine, factory models.ProtocolFactory, modelParams []float64, times []float64, x0 float64, opts ...Option) (*Objective, error) {
	if engine == nil || factory == nil {
		return nil, fmt.Errorf("identifiability: sensitivity engine and protocol factory are required")
	}
	if len(modelParams) == 0 {
		return nil, &models.InputShapeError{Op: "identifiability objective", Field: "model params", Want: 1, Got: 0}
	}
	if err := models.TimeGrid(times).Validate(); err != nil {
		return nil, err
	}

	o := &Objective{
		engine:         engine,
		factory:        factory,
		modelParams:    append([]float64(nil), modelParams...),
		times:          append([]float64(nil), times...),
		x0:             x0,
		sigma:          DefaultNoiseSigma,
		penalty:        DefaultSingularPenalty,
		regularization: DefaultRegularization,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.workers <= 0 {
		o.workers = runtime.GOMAXPROCS(0)
	}
	o.logger = logger.OrDefault(o.logger)
	return o, nil
}

// AtModelParams returns a copy of the objective linearized at modelParams.
func (o *Objective) AtModelParams(modelParams []float64) (*Objective, error) {
	if len(modelParams) != len(o.modelParams) {
		return nil, &models.InputShapeError{Op: "identifiability objective", Field: "model params", Want: len(o.modelParams), Got: len(modelParams)}
	}
	next := *o
	next.modelParams = append([]float64(nil), modelParams...)
	return &next, nil
}

// ModelParams returns a copy of the linearization point.
func (o *Objective) ModelParams() []float64 {
	return append([]float64(nil), o.modelParams...)
}

// FisherInformation builds J[i,j] = sum_t s_i(t)*s_j(t) / sigma^2.
func (o *Objective) FisherInformation(sens []models.Trajectory) *mat.SymDense {
	n := len(sens)
	fim := mat.NewSymDense(n, nil)
	scale := 1 / (o.sigma * o.sigma)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			fim.SetSym(i, j, floats.Dot(sens[i], sens[j])*scale)
		}
	}
	return fim
}

// varianceBounds returns the diagonal of the inverse Fisher matrix, or the penalty
// diagonal when the matrix is singular or too ill-conditioned to invert.
func (o *Objective) varianceBounds(fim *mat.SymDense) ([]float64, bool) {
	n, _ := fim.Dims()
	var inv mat.Dense
	err := inv.Inverse(fim)

	bounds := make([]float64, n)
	singular := err != nil
	if !singular {
		for i := range bounds {
			bounds[i] = inv.At(i, i)
		}
		singular = !utils.AllFinite(bounds)
	}
	if singular {
		for i := range bounds {
			bounds[i] = o.penalty
		}
	}
	return bounds, singular
}

// Detail evaluates the objective and returns its components.
func (o *Objective) Detail(protocolParams []float64) (Evaluation, error) {
	waveform, err := o.factory(protocolParams)
	if err != nil {
		metrics.ObserveObjective(false, err)
		return Evaluation{}, err
	}

	sens, err := o.engine.Sensitivities(o.modelParams, waveform, o.times, o.x0)
	if err != nil {
		metrics.ObserveObjective(false, err)
		return Evaluation{}, err
	}

	bounds, singular := o.varianceBounds(o.FisherInformation(sens))
	if singular {
		o.logger.Debug("fisher information matrix is singular, applying penalty",
			"protocol_params", protocolParams,
			"penalty", o.penalty)
	}

	crlb := 0.0
	for i, b := range bounds {
		crlb += b / o.modelParams[i]
	}
	reg := o.regularization * floats.Dot(protocolParams, protocolParams)

	metrics.ObserveObjective(singular, nil)
	return Evaluation{
		Score:          crlb + reg,
		CRLB:           crlb,
		Regularization: reg,
		VarianceBounds: bounds,
		Singular:       singular,
	}, nil
}

// Evaluate returns the score of one protocol parameter vector.
func (o *Objective) Evaluate(protocolParams []float64) (float64, error) {
	ev, err := o.Detail(protocolParams)
	if err != nil {
		return 0, err
	}
	return ev.Score, nil
}

// EvaluateBatch scores each row independently and concurrently. Scores are returned
// in row order. The first failing row aborts the batch.
func (o *Objective) EvaluateBatch(rows [][]float64) ([]float64, error) {
	scores := make([]float64, len(rows))

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(o.workers)
	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			score, err := o.Evaluate(row)
			if err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			scores[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}
