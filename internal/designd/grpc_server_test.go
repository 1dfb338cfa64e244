package designd

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func startBufconnServer(t *testing.T, store *RunStore) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(store)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return s
}

func TestGRPCGetAndListDesigns(t *testing.T) {
	store := NewRunStore()
	for _, id := range []string{"a", "b"} {
		if _, err := store.Create(id, tinyConfig(t)); err != nil {
			t.Fatalf("Create error: %v", err)
		}
	}
	if _, err := store.SetStatus("b", StatusRunning, ""); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	client := NewDesignServiceClient(startBufconnServer(t, store))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got, err := client.GetDesign(ctx, mustStruct(t, map[string]any{"id": "a"}))
	if err != nil {
		t.Fatalf("GetDesign error: %v", err)
	}
	run := got.GetFields()["run"].GetStructValue().GetFields()
	if run["id"].GetStringValue() != "a" || run["status"].GetStringValue() != string(StatusPending) {
		t.Fatalf("unexpected run: %v", got)
	}

	list, err := client.ListDesigns(ctx, mustStruct(t, map[string]any{}))
	if err != nil {
		t.Fatalf("ListDesigns error: %v", err)
	}
	if n := len(list.GetFields()["runs"].GetListValue().GetValues()); n != 2 {
		t.Fatalf("expected 2 runs, got %d", n)
	}

	running, err := client.ListDesigns(ctx, mustStruct(t, map[string]any{"status": "running", "limit": 10}))
	if err != nil {
		t.Fatalf("ListDesigns error: %v", err)
	}
	values := running.GetFields()["runs"].GetListValue().GetValues()
	if len(values) != 1 || values[0].GetStructValue().GetFields()["id"].GetStringValue() != "b" {
		t.Fatalf("expected only run b, got %v", running)
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	client := NewDesignServiceClient(startBufconnServer(t, NewRunStore()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"missing id", func() error {
			_, err := client.GetDesign(ctx, mustStruct(t, map[string]any{}))
			return err
		}, codes.InvalidArgument},
		{"unknown run", func() error {
			_, err := client.GetDesign(ctx, mustStruct(t, map[string]any{"id": "nope"}))
			return err
		}, codes.NotFound},
		{"bad status filter", func() error {
			_, err := client.ListDesigns(ctx, mustStruct(t, map[string]any{"status": "bogus"}))
			return err
		}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(tt.call()); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	conn := startBufconnServer(t, NewRunStore())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: DesignServiceName})
	if err != nil {
		t.Fatalf("health check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", resp.GetStatus())
	}
}
