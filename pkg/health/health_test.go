package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeResponse struct {
	Status string
	Checks map[string]string
}

func decode(t *testing.T, w *httptest.ResponseRecorder) probeResponse {
	t.Helper()
	var resp probeResponse
	err := jx.DecodeBytes(w.Body.Bytes()).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "status":
			s, err := d.Str()
			resp.Status = s
			return err
		case "checks":
			resp.Checks = map[string]string{}
			return d.Obj(func(d *jx.Decoder, name string) error {
				msg, err := d.Str()
				resp.Checks[name] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return resp
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func failing(msg string) Check {
	return func(context.Context) error { return errors.New(msg) }
}

func TestLive_HealthyByDefault(t *testing.T) {
	p := New()
	p.Liveness("goroutines", time.Second, GoroutineLimit(1_000_000))

	w := serve(p.LiveHandler)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode(t, w).Status)
}

func TestLive_Threshold(t *testing.T) {
	p := New(WithFailureThreshold(2))
	p.Liveness("db", time.Second, failing("connection refused"))

	ctx := context.Background()
	p.live[0].run(ctx)
	assert.Equal(t, http.StatusOK, serve(p.LiveHandler).Code)

	p.live[0].run(ctx)
	w := serve(p.LiveHandler)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "connection refused", resp.Checks["db"])
}

func TestLive_RecoversOnSuccess(t *testing.T) {
	var broken atomic.Bool
	broken.Store(true)
	p := New(WithFailureThreshold(1))
	p.Liveness("flaky", time.Second, func(context.Context) error {
		if broken.Load() {
			return errors.New("down")
		}
		return nil
	})

	ctx := context.Background()
	p.live[0].run(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, serve(p.LiveHandler).Code)

	broken.Store(false)
	p.live[0].run(ctx)
	assert.Equal(t, http.StatusOK, serve(p.LiveHandler).Code)
}

func TestReady_ManualFlag(t *testing.T) {
	p := New()
	p.Readiness("postgres", time.Second, func(context.Context) error { return nil })

	w := serve(p.ReadyHandler)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, decode(t, w).Checks, "_readiness")

	p.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(p.ReadyHandler).Code)

	p.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(p.ReadyHandler).Code)
}

func TestReady_IgnoresLivenessFailures(t *testing.T) {
	p := New(WithFailureThreshold(1))
	p.Liveness("broken", time.Second, failing("boom"))
	p.SetReady(true)

	p.live[0].run(context.Background())
	assert.Equal(t, http.StatusOK, serve(p.ReadyHandler).Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(p.LiveHandler).Code)
}

func TestCheckTimeout(t *testing.T) {
	p := New(WithFailureThreshold(1))
	p.Readiness("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p.SetReady(true)

	p.read[0].run(context.Background())
	resp := decode(t, serve(p.ReadyHandler))
	assert.Equal(t, context.DeadlineExceeded.Error(), resp.Checks["slow"])
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	p := New()
	p.Readiness("counter", time.Second, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	p.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	p.Stop()
	p.Stop()

	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), stopped+1)
}

func TestGoroutineLimit(t *testing.T) {
	require.NoError(t, GoroutineLimit(1_000_000)(context.Background()))
	require.Error(t, GoroutineLimit(0)(context.Background()))
}
