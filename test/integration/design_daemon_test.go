//go:build integration
// +build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/GoSim-25-26J-441/experiment-design/internal/designd"
	"github.com/GoSim-25-26J-441/experiment-design/internal/metrics"
)

const linearResponseDesign = `
model:
  name: linear_response
  param_names: [k, g]
  params: [4.0, 8.0]
  true_params: [5.0, 10.0]
protocol:
  family: step
  params: [1.0, 2.0]
time_grid:
  start: 0
  stop: 10
  points: 40
search:
  particles: 6
  iterations: 5
  seed: 7
inference:
  iterations: 400
  seed: 11
session:
  design_iterations: 2
  baseline: true
`

func postDesign(t *testing.T, baseURL, query string) map[string]any {
	t.Helper()
	resp, err := http.Post(baseURL+"/v1/designs"+query, "application/yaml", strings.NewReader(linearResponseDesign))
	if err != nil {
		t.Fatalf("POST /v1/designs: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

// TestIntegration_DesignRunOverHTTPAndGRPC creates and starts a design over HTTP, waits
// for it to complete and reads the finished run back over gRPC.
func TestIntegration_DesignRunOverHTTPAndGRPC(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	store := designd.NewRunStore()
	executor := designd.NewRunExecutor(store, nil)
	api := httptest.NewServer(designd.NewHTTPServer(store, executor, reg).Handler())
	defer api.Close()

	created := postDesign(t, api.URL, "?id=lr-1&start=true")
	if run := created["run"].(map[string]any); run["status"] != string(designd.StatusRunning) {
		t.Fatalf("expected RUNNING after start=true, got %v", run["status"])
	}

	deadline := time.Now().Add(2 * time.Minute)
	var final map[string]any
	for time.Now().Before(deadline) {
		final = getJSON(t, api.URL+"/v1/designs/lr-1")
		status := final["run"].(map[string]any)["status"]
		if status != string(designd.StatusRunning) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	run := final["run"].(map[string]any)
	if run["status"] != string(designd.StatusCompleted) {
		t.Fatalf("expected COMPLETED, got %v (%v)", run["status"], run["error"])
	}
	report, ok := final["report"].(map[string]any)
	if !ok {
		t.Fatalf("expected report in %v", final)
	}
	if params := report["protocol_params"].([]any); len(params) != 2 {
		t.Fatalf("expected 2 protocol params, got %v", params)
	}
	if comparisons := report["parameters"].([]any); len(comparisons) != 2 {
		t.Fatalf("expected 2 parameter comparisons, got %v", comparisons)
	}

	lis := bufconn.Listen(1 << 20)
	grpcSrv := designd.NewGRPCServer(store)
	go func() { _ = grpcSrv.Serve(lis) }()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		grpcSrv.Shutdown(ctx)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req, _ := structpb.NewStruct(map[string]any{"id": "lr-1"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	got, err := designd.NewDesignServiceClient(conn).GetDesign(ctx, req)
	if err != nil {
		t.Fatalf("GetDesign: %v", err)
	}
	if status := got.GetFields()["run"].GetStructValue().GetFields()["status"].GetStringValue(); status != string(designd.StatusCompleted) {
		t.Fatalf("expected COMPLETED over gRPC, got %s", status)
	}

	resp, err := http.Get(api.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"experiment_design_search_seconds", "experiment_design_mcmc_acceptance_rate", "experiment_design_design_runs_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("expected %s in metrics output", name)
		}
	}
}
