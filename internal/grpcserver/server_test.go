package grpcserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufconnSize = 1 << 20

type switchablePinger struct {
	mu  sync.Mutex
	err error
}

func (pinger *switchablePinger) Ping(context.Context) error {
	pinger.mu.Lock()
	defer pinger.mu.Unlock()
	return pinger.err
}

func (pinger *switchablePinger) fail(err error) {
	pinger.mu.Lock()
	defer pinger.mu.Unlock()
	pinger.err = err
}

func startHealthServer(test *testing.T, pinger Pinger) (*Server, healthpb.HealthClient, context.CancelFunc, <-chan error) {
	test.Helper()
	server, err := New(pinger, WithCheckInterval(time.Hour))
	if err != nil {
		test.Fatalf("new server: %v", err)
	}
	listener := bufconn.Listen(bufconnSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx, listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		cancel()
		test.Fatalf("dial bufconn: %v", err)
	}
	test.Cleanup(func() {
		cancel()
		_ = conn.Close()
	})
	return server, healthpb.NewHealthClient(conn), cancel, done
}

func checkStatus(test *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	test.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	response, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		test.Fatalf("health check: %v", err)
	}
	return response.GetStatus()
}

func TestHealthReflectsStoreReadiness(test *testing.T) {
	test.Parallel()
	pinger := &switchablePinger{}
	server, client, _, _ := startHealthServer(test, pinger)

	if status := checkStatus(test, client, LedgerServiceName); status != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("expected SERVING, got %v", status)
	}

	pinger.fail(errors.New("database is closed"))
	if status := server.Refresh(context.Background()); status != healthpb.HealthCheckResponse_NOT_SERVING {
		test.Fatalf("expected refresh to report NOT_SERVING, got %v", status)
	}
	if status := checkStatus(test, client, ""); status != healthpb.HealthCheckResponse_NOT_SERVING {
		test.Fatalf("expected NOT_SERVING, got %v", status)
	}
}

func TestServeStopsOnCancel(test *testing.T) {
	test.Parallel()
	_, client, cancel, done := startHealthServer(test, &switchablePinger{})
	if status := checkStatus(test, client, ""); status != healthpb.HealthCheckResponse_SERVING {
		test.Fatalf("expected SERVING, got %v", status)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			test.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		test.Fatalf("serve did not stop")
	}
}

func TestNewRequiresPinger(test *testing.T) {
	test.Parallel()
	if _, err := New(nil); !errors.Is(err, ErrMissingPinger) {
		test.Fatalf("expected %v, got %v", ErrMissingPinger, err)
	}
}
