package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr/mcpmgrtest"
	"github.com/vikashloomba/mcphub-go/pkg/registry"
)

func startFixture(t *testing.T, opts *Options) (*Connection, *mcpmgrtest.Factory) {
	t.Helper()
	factory := newMemoryFactory(t, fixtureServers())
	if opts == nil {
		opts = testOptions(nil)
	}
	opts.TransportFactory = factory.Transport
	conn := NewConnection(registry.ServerDescriptor{Name: "fixture", Command: "fixture"}, opts)
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = conn.Stop(context.Background()) })
	return conn, factory
}

func TestConnectionStartAndCall(t *testing.T) {
	t.Parallel()

	conn, _ := startFixture(t, nil)
	if got := conn.Status(); got != StatusReady {
		t.Fatalf("status = %s, want ready", got)
	}
	tools := conn.Tools()
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}
	for _, tool := range tools {
		if tool.ServerName != "fixture" || tool.QualifiedName != "fixture."+tool.ToolName {
			t.Fatalf("unexpected descriptor %+v", tool)
		}
		if tool.InputSchema == nil {
			t.Fatalf("descriptor %s has no input schema", tool.QualifiedName)
		}
	}

	res, err := conn.CallTool(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.Success || res.Payload != "hi" || res.QualifiedName != "fixture.echo" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConnectionToolErrorKeepsConnectionReady(t *testing.T) {
	t.Parallel()

	conn, _ := startFixture(t, nil)
	res, err := conn.CallTool(context.Background(), "fail", nil)
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.Success || res.ErrorKind != KindToolError {
		t.Fatalf("expected tool_error result, got %+v", res)
	}
	if !strings.Contains(res.ErrorMessage, "fixture failure") {
		t.Fatalf("error message %q does not carry the tool's error", res.ErrorMessage)
	}
	if got := conn.Status(); got != StatusReady {
		t.Fatalf("status = %s, want ready", got)
	}
}

func TestConnectionHandshakeTimeout(t *testing.T) {
	t.Parallel()

	silent := &silentTransport{}
	opts := testOptions(func(context.Context, registry.ServerDescriptor) (mcp.Transport, error) {
		return silent, nil
	})
	opts.HandshakeTimeout = 100 * time.Millisecond
	conn := NewConnection(registry.ServerDescriptor{Name: "hung", Command: "hung"}, opts)

	start := time.Now()
	err := conn.Start(context.Background())
	var startErr *StartupError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StartupError, got %v", err)
	}
	if KindOf(err) != KindStartup {
		t.Fatalf("KindOf = %s", KindOf(err))
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("handshake took %s, timeout not enforced", elapsed)
	}
	if got := conn.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}
	if snap := conn.Snapshot(); snap.LastError == "" {
		t.Fatalf("expected last error to be recorded")
	}
	waitFor(t, "transport release", silent.closed.Load)
}

func TestCommandTransportHandshakeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("launches a subprocess")
	}
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	t.Parallel()

	opts := testOptions(CommandTransport)
	opts.HandshakeTimeout = 200 * time.Millisecond
	conn := NewConnection(registry.ServerDescriptor{Name: "sleeper", Command: sleep, Args: []string{"60"}}, opts)

	done := make(chan error, 1)
	go func() { done <- conn.Start(context.Background()) }()
	select {
	case err := <-done:
		var startErr *StartupError
		if !errors.As(err, &startErr) {
			t.Fatalf("expected *StartupError, got %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatalf("Start still blocked with HandshakeTimeout=200ms; status=%s", conn.Status())
	}
	if got := conn.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}
}

func TestConnectionCallTimeoutDemotesAndProbeRecovers(t *testing.T) {
	t.Parallel()

	opts := testOptions(nil)
	opts.CallTimeout = 100 * time.Millisecond
	conn, _ := startFixture(t, opts)

	_, err := conn.CallTool(context.Background(), "sleep", map[string]any{"millis": 2000, "tag": "late"})
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if got := conn.Status(); got != StatusDegraded {
		t.Fatalf("status = %s, want degraded", got)
	}
	if tools := conn.Tools(); len(tools) != 0 {
		t.Fatalf("degraded connection still advertises %d tools", len(tools))
	}

	if _, err := conn.CallTool(context.Background(), "echo", map[string]any{"text": "x"}); err == nil {
		t.Fatalf("call on degraded connection should fail")
	} else if KindOf(err) != KindToolNotFound {
		t.Fatalf("kind = %s, want tool_not_found", KindOf(err))
	}

	if err := conn.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got := conn.Status(); got != StatusReady {
		t.Fatalf("status after probe = %s, want ready", got)
	}
}

func TestConnectionCallerCancellationDoesNotDemote(t *testing.T) {
	t.Parallel()

	conn, _ := startFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := conn.CallTool(ctx, "sleep", map[string]any{"millis": 2000, "tag": "x"})
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %s, want timeout (%v)", KindOf(err), err)
	}
	if got := conn.Status(); got != StatusReady {
		t.Fatalf("status = %s, want ready", got)
	}
}

func TestConnectionConcurrentCallsCorrelate(t *testing.T) {
	t.Parallel()

	conn, _ := startFixture(t, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tag := fmt.Sprintf("call-%d", i)
			// Earlier calls sleep longer so responses arrive out of order.
			res, err := conn.CallTool(context.Background(), "sleep", map[string]any{"millis": (n - i) * 20, "tag": tag})
			if err != nil {
				errs <- err
				return
			}
			if res.Payload != tag {
				errs <- fmt.Errorf("call %s received %v", tag, res.Payload)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestConnectionCrashIsRestarted(t *testing.T) {
	t.Parallel()

	conn, factory := startFixture(t, nil)
	factory.Crash("fixture")
	waitFor(t, "degraded after crash", func() bool { return conn.Status() == StatusDegraded })

	if !conn.checkHealth(context.Background()) {
		t.Fatalf("supervision ended after a successful restart")
	}
	if got := conn.Status(); got != StatusReady {
		t.Fatalf("status = %s, want ready", got)
	}
	if got := factory.Launches("fixture"); got != 2 {
		t.Fatalf("launches = %d, want 2", got)
	}
	if snap := conn.Snapshot(); snap.Restarts != 1 {
		t.Fatalf("restarts = %d, want 1", snap.Restarts)
	}
	res, err := conn.CallTool(context.Background(), "echo", map[string]any{"text": "back"})
	if err != nil || res.Payload != "back" {
		t.Fatalf("call after restart: %+v, %v", res, err)
	}
}

func TestConnectionGivesUpAfterMaxRestarts(t *testing.T) {
	t.Parallel()

	conn, factory := startFixture(t, nil)
	factory.FailAfter("fixture", 1)

	factory.Crash("fixture")
	waitFor(t, "degraded after crash", func() bool { return conn.Status() == StatusDegraded })

	if conn.checkHealth(context.Background()) {
		t.Fatalf("supervision should end once restarts are exhausted")
	}
	if got := conn.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}
	if got := factory.Launches("fixture"); got != 3 {
		t.Fatalf("launches = %d, want 1 start + 2 restarts", got)
	}
	if err := conn.Restart(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Restart on stopped connection = %v, want ErrStopped", err)
	}
}

func TestConnectionStopIsIdempotent(t *testing.T) {
	t.Parallel()

	conn, _ := startFixture(t, nil)
	if err := conn.Stop(context.Background()); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := conn.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	_, err := conn.CallTool(context.Background(), "echo", nil)
	var nf *ToolNotFoundError
	if !errors.As(err, &nf) || nf.Status != StatusStopped {
		t.Fatalf("expected ToolNotFoundError for stopped server, got %v", err)
	}
	if err := conn.Probe(context.Background()); !errors.Is(err, ErrStopped) {
		t.Fatalf("Probe after Stop = %v", err)
	}
}

func TestConnectionStopReleasesServerAfterCallTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	factory := newMemoryFactory(t, map[string]func() *mcp.Server{
		"stuck": func() *mcp.Server { return mcpmgrtest.NewStuckServer(release) },
	})
	t.Cleanup(func() { close(release) })

	opts := testOptions(factory.Transport)
	opts.CallTimeout = 100 * time.Millisecond
	conn := NewConnection(registry.ServerDescriptor{Name: "stuck", Command: "stuck"}, opts)
	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err := conn.CallTool(context.Background(), "hang", nil)
	if KindOf(err) != KindTimeout {
		t.Fatalf("kind = %s, want timeout (%v)", KindOf(err), err)
	}
	if got := conn.Status(); got != StatusDegraded {
		t.Fatalf("status = %s, want degraded", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		_ = conn.Stop(ctx)
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on the outstanding call")
	}
	if got := conn.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}
	waitFor(t, "client transport closed", func() bool { return factory.ClientClosed("stuck") })
}

func TestConnectionTracesJSONRPC(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []RPCLogEvent
	opts := testOptions(nil)
	opts.RPCLogger = func(ev RPCLogEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	startFixture(t, opts)

	mu.Lock()
	defer mu.Unlock()
	var sawInitialize, sawReply bool
	for _, ev := range events {
		if ev.ServerID != "fixture" {
			t.Fatalf("event attributed to %q", ev.ServerID)
		}
		if ev.Direction == RPCDirectionSend && strings.Contains(string(ev.Message), `"initialize"`) {
			sawInitialize = true
		}
		if ev.Direction == RPCDirectionReceive {
			sawReply = true
		}
	}
	if !sawInitialize || !sawReply {
		t.Fatalf("trace incomplete: initialize=%v reply=%v (%d events)", sawInitialize, sawReply, len(events))
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	b := BackoffConfig{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Factor: 2}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := b.delay(i); got != w {
			t.Fatalf("delay(%d) = %s, want %s", i, got, w)
		}
	}

	b.Jitter = 0.2
	for i := 0; i < 50; i++ {
		d := b.delay(1)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered delay %s outside ±20%%", d)
		}
	}
}
