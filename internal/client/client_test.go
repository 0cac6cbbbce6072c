package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/candlewire/internal/protocol"
	"github.com/danmuck/candlewire/internal/protocol/array"
	"github.com/danmuck/candlewire/internal/protocol/session"
	"github.com/danmuck/candlewire/internal/runtime"
	"github.com/danmuck/candlewire/internal/testutil/testlog"
	"gonum.org/v1/gonum/mat"
)

type harness struct {
	srv      *runtime.Server
	renderer *runtime.HeadlessRenderer
	client   *Client
}

func testSession() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = time.Second
	cfg.CallTimeout = 2 * time.Second
	cfg.CloseTimeout = 300 * time.Millisecond
	cfg.DialRetry = 20 * time.Millisecond
	return cfg
}

func startHarness(t *testing.T) *harness {
	t.Helper()
	r := runtime.NewHeadlessRenderer(t.TempDir())
	srv := runtime.NewServer(runtime.Config{
		ControlAddr: "tcp://127.0.0.1:0",
		StreamAddr:  "tcp://127.0.0.1:0",
		FrameRate:   200,
	}, r)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start runtime: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	c, err := Connect(context.Background(), Config{
		ControlEndpoint: srv.ControlEndpoint(),
		StreamEndpoint:  srv.StreamEndpoint(),
		Session:         testSession(),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return &harness{srv: srv, renderer: r, client: c}
}

func identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func TestLoadThenBadPoseIsRejected(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	ctx := context.Background()

	if err := h.client.Load(ctx, Model{ModelBlob: "M", GeometryBlob: "G"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	err := h.client.SetCameraPose(ctx, array.MustFromSlice(make([]float64, 9), 3, 3))
	if !errors.Is(err, protocol.ErrCommandRejected) {
		t.Fatalf("expected ErrCommandRejected, got %v", err)
	}
	if errors.Is(err, protocol.ErrTimeout) || errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("rejection must be distinguishable from transport errors: %v", err)
	}
	// channel stays usable after a rejection
	if err := h.client.ResetCamera(ctx); err != nil {
		t.Fatalf("reset camera: %v", err)
	}
}

func TestRecordingStartStop(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	ctx := context.Background()

	if err := h.client.StartRecording(ctx, "out.mp4"); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	active, err := h.client.StopRecording(ctx)
	if err != nil || !active {
		t.Fatalf("first stop: active=%v err=%v", active, err)
	}
	active, err = h.client.StopRecording(ctx)
	if err != nil || active {
		t.Fatalf("second stop: active=%v err=%v", active, err)
	}
	if err := h.client.StartRecording(ctx, ""); !errors.Is(err, protocol.ErrEmptyFilename) {
		t.Fatalf("expected ErrEmptyFilename, got %v", err)
	}
}

func TestIdentityPoseReachesRuntime(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	ctx := context.Background()

	if err := h.client.Load(ctx, Model{ModelBlob: "M", GeometryBlob: "G"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.client.SetCameraPoseMatrix(ctx, identity()); err != nil {
		t.Fatalf("set pose: %v", err)
	}
	got := h.renderer.Snapshot().Pose
	want := identity().RawMatrix().Data
	if len(got) != 16 {
		t.Fatalf("pose has %d values", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pose[%d]=%v want %v (got %v)", i, got[i], want[i], got)
		}
	}
}

func TestPushStateChecksModelDims(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	ctx := context.Background()

	if err := h.client.Load(ctx, Model{ModelBlob: "M", GeometryBlob: "G", NQ: 3, NV: 2}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.client.PushStateValues([]float64{1, 2}, nil); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch for position, got %v", err)
	}
	if err := h.client.PushStateValues([]float64{1, 2, 3}, []float64{1}); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch for velocity, got %v", err)
	}
	if err := h.client.PushStateValues([]float64{1, 2, 3}, []float64{0, 1}); err != nil {
		t.Fatalf("push: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.renderer.Snapshot().Frames == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("state never rendered: %+v", h.srv.Dispatcher().Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecordStopsAfterCallbackError(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	ctx := context.Background()

	boom := errors.New("trajectory failed")
	err := h.client.Record(ctx, "take.bin", func(context.Context) error {
		if !h.srv.Dispatcher().Status().Recording {
			t.Errorf("recording not active inside Record")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if h.srv.Dispatcher().Status().Recording {
		t.Fatalf("recording left active")
	}
	if h.renderer.Snapshot().Recording != "" {
		t.Fatalf("renderer still recording")
	}
}

func TestStreamAndControlRunConcurrently(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	ctx := context.Background()
	if err := h.client.Load(ctx, Model{ModelBlob: "M", GeometryBlob: "G", NQ: 7}); err != nil {
		t.Fatalf("load: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q := make([]float64, 7)
		for i := 0; i < 2000; i++ {
			q[0] = float64(i)
			if err := h.client.PushStateValues(q, nil); err != nil {
				t.Errorf("push %d: %v", i, err)
				return
			}
		}
	}()
	for i := 0; i < 20; i++ {
		if err := h.client.ResetCamera(ctx); err != nil {
			t.Fatalf("reset %d: %v", i, err)
		}
	}
	wg.Wait()
	if st := h.client.StreamStats(); st.Published != 2000 {
		t.Fatalf("unexpected stream stats: %+v", st)
	}
}

func TestPublishWithRuntimeGoneNeverBlocks(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	if err := h.srv.Close(); err != nil {
		t.Logf("runtime close: %v", err)
	}

	start := time.Now()
	for i := 0; i < 10000; i++ {
		if err := h.client.PushStateValues([]float64{float64(i)}, nil); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("publishing blocked: %v", elapsed)
	}
}

func TestCloseIsBoundedWhenRuntimeUnreachable(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	if err := h.client.Load(context.Background(), Model{ModelBlob: "M", GeometryBlob: "G"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := h.client.StopRecording(context.Background()); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	_ = h.srv.Close()

	start := time.Now()
	_ = h.client.Close()
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("close not bounded: %v", elapsed)
	}
	if err := h.client.PushStateValues([]float64{1}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	first := h.client.closeErr
	if err := h.client.Close(); err != first {
		t.Fatalf("second close changed result: %v", err)
	}
}

func TestCloseCleansLoadedModel(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	if err := h.client.Load(context.Background(), Model{ModelBlob: "M", GeometryBlob: "G"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if h.srv.Dispatcher().Status().Loaded {
		t.Fatalf("model still loaded after close")
	}
}

func TestConnectUnreachable(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.ControlPort = port
	cfg.Session = testSession()
	cfg.Session.ConnectTimeout = 200 * time.Millisecond
	start := time.Now()
	if _, err := Connect(context.Background(), cfg); !errors.Is(err, protocol.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("connect not bounded: %v", elapsed)
	}
}

func TestConfigEndpoints(t *testing.T) {
	testlog.Start(t)
	control, stream := Config{Host: "viz.local", ControlPort: 13000}.endpoints()
	if control != "tcp://viz.local:13000" || stream != "tcp://viz.local:13002" {
		t.Fatalf("unexpected endpoints %q %q", control, stream)
	}
	control, stream = DefaultConfig().endpoints()
	if control != "tcp://127.0.0.1:12000" || stream != "tcp://127.0.0.1:12002" {
		t.Fatalf("unexpected default endpoints %q %q", control, stream)
	}
}

func TestControlCallsAfterCloseReturnErrClosed(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	if err := h.client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.client.ResetCamera(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := h.client.StopRecording(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestEmptyPayloadCommandsRoundTrip(t *testing.T) {
	testlog.Start(t)
	h := startHarness(t)
	ctx := context.Background()

	if err := h.client.Load(ctx, Model{ModelBlob: "M", GeometryBlob: "G"}); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := h.client.ResetCamera(ctx); err != nil {
		t.Fatalf("reset camera: %v", err)
	}
	active, err := h.client.StopRecording(ctx)
	if err != nil || active {
		t.Fatalf("idle stop: active=%v err=%v", active, err)
	}
	if err := h.client.StartRecording(ctx, "take.mp4"); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	active, err = h.client.StopRecording(ctx)
	if err != nil || !active {
		t.Fatalf("stop: active=%v err=%v", active, err)
	}
	if err := h.client.Clean(ctx); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if h.srv.Dispatcher().Status().Loaded {
		t.Fatalf("model still loaded after clean")
	}
}
