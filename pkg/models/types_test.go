package models

import (
	"errors"
	"math"
	"testing"
)

func TestParameterVectorClone(t *testing.T) {
	p := ParameterVector{1, 2, 3}
	c := p.Clone()
	c[0] = 99
	if p[0] != 1 {
		t.Fatal("Clone must return an independent copy")
	}
	if ParameterVector(nil).Clone() != nil {
		t.Fatal("Clone of nil should be nil")
	}
}

func TestTimeGridValidate(t *testing.T) {
	tests := []struct {
		name    string
		grid    TimeGrid
		wantErr bool
	}{
		{"valid", TimeGrid{0, 0.5, 1}, false},
		{"single sample", TimeGrid{0}, false},
		{"empty", TimeGrid{}, true},
		{"repeated", TimeGrid{0, 1, 1}, true},
		{"decreasing", TimeGrid{0, 2, 1}, true},
		{"nan", TimeGrid{0, math.NaN()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grid.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	var shapeErr *InputShapeError
	if !errors.As(TimeGrid{}.Validate(), &shapeErr) {
		t.Fatal("expected empty grid to fail with InputShapeError")
	}
}

func TestSimulatorSimulateWrapsFailures(t *testing.T) {
	boom := errors.New("integration diverged")
	sim := Simulator(func(_ []float64, _ Waveform, _ []float64, _ float64) ([]float64, error) {
		return nil, boom
	})

	_, err := sim.Simulate("sensitivity", []float64{1}, func(float64) float64 { return 0 }, []float64{0, 1}, 0)
	var simErr *SimulatorError
	if !errors.As(err, &simErr) {
		t.Fatalf("expected SimulatorError, got %v", err)
	}
	if simErr.Op != "sensitivity" {
		t.Errorf("expected op 'sensitivity', got %q", simErr.Op)
	}
	if !errors.Is(err, boom) {
		t.Error("expected SimulatorError to unwrap to the original failure")
	}
}

func TestSimulatorSimulateChecksLength(t *testing.T) {
	sim := Simulator(func(_ []float64, _ Waveform, times []float64, _ float64) ([]float64, error) {
		return make([]float64, len(times)-1), nil
	})

	_, err := sim.Simulate("inference", nil, nil, []float64{0, 1, 2}, 0)
	var shapeErr *InputShapeError
	if !errors.As(err, &shapeErr) {
		t.Fatalf("expected InputShapeError, got %v", err)
	}
	if shapeErr.Want != 3 || shapeErr.Got != 2 {
		t.Errorf("unexpected shape error: %v", shapeErr)
	}
}

func TestNamedParameters(t *testing.T) {
	ok := NamedParameters{Names: []string{"k", "g"}, Values: []float64{5, 10}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, found := ok.Lookup("g"); !found || v != 10 {
		t.Errorf("Lookup(g) = %v, %v", v, found)
	}
	if _, found := ok.Lookup("missing"); found {
		t.Error("Lookup should miss unknown names")
	}

	bad := NamedParameters{Names: []string{"k", "g"}, Values: []float64{5}}
	var shapeErr *InputShapeError
	if !errors.As(bad.Validate(), &shapeErr) {
		t.Fatal("expected InputShapeError for mismatched names and values")
	}
}
