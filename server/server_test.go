package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-httpd/api"
	"github.com/momentics/hioload-httpd/credentials"
	"github.com/momentics/hioload-httpd/fake"
	"github.com/momentics/hioload-httpd/pool"
)

var testPages = map[string]string{
	"judge.html":         "<html>judge</html>",
	"welcome.html":       "<html>welcome</html>",
	"logError.html":      "<html>login failed</html>",
	"log.html":           "<html>log in</html>",
	"registerError.html": "<html>register failed</html>",
	"register.html":      "<html>register</html>",
}

type running struct {
	srv  *Server
	addr string
	done chan error
}

func startServer(t *testing.T, mutate func(*Config)) *running {
	t.Helper()
	return startServerWith(t, mutate, nil)
}

// startServerWith serves from resources, or from a two-handle memory pool
// when resources is nil.
func startServerWith(t *testing.T, mutate func(*Config), resources api.ResourcePool[credentials.Handle]) *running {
	t.Helper()
	root := t.TempDir()
	for name, body := range testPages {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o644))
	}
	big := strings.Repeat("0123456789", 50000)
	require.NoError(t, os.WriteFile(filepath.Join(root, "big.txt"), []byte(big), 0o644))

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1"
	cfg.Port = 0
	cfg.DocRoot = root
	cfg.Workers = 2
	cfg.QueueCapacity = 64
	cfg.HandleSignals = false
	cfg.TickInterval = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	ctx := context.Background()
	if resources == nil {
		store := credentials.NewMemoryStore(map[string]string{"alice": "secret"})
		bounded, err := pool.NewBounded(ctx, 2, func(context.Context) (credentials.Handle, error) {
			return store.Handle(), nil
		}, nil)
		require.NoError(t, err)
		resources = bounded
	}
	snap, err := credentials.LoadSnapshot(ctx, resources)
	require.NoError(t, err)

	srv, err := New(cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithResources(resources),
		WithSnapshot(snap))
	require.NoError(t, err)

	r := &running{
		srv:  srv,
		addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(srv.Port())),
		done: make(chan error, 1),
	}
	go func() { r.done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		srv.Shutdown()
		select {
		case err := <-r.done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return r
}

func (r *running) dial(t *testing.T) (net.Conn, *bufio.Reader) {
	t.Helper()
	c, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	return c, bufio.NewReader(c)
}

func roundTrip(t *testing.T, c net.Conn, br *bufio.Reader, request string) (*http.Response, string) {
	t.Helper()
	_, err := io.WriteString(c, request)
	require.NoError(t, err)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (r *running) stat(key string) int64 {
	v, _ := r.srv.Stats()[key].(int64)
	return v
}

func TestServer_GetFileAllModes(t *testing.T) {
	for _, actor := range []ActorModel{Proactor, Reactor} {
		for mode := TriggerLTLT; mode <= TriggerETET; mode++ {
			t.Run(fmt.Sprintf("%s/%s", actor, mode), func(t *testing.T) {
				r := startServer(t, func(c *Config) {
					c.ActorModel = actor
					c.TriggerMode = mode
				})
				c, br := r.dial(t)

				resp, body := roundTrip(t, c, br, "GET / HTTP/1.1\r\nHost: test\r\n\r\n")
				assert.Equal(t, 200, resp.StatusCode)
				assert.Equal(t, testPages["judge.html"], body)
				assert.Equal(t, "keep-alive", resp.Header.Get("Connection"))

				// the same connection serves the next request
				want, err := os.ReadFile(filepath.Join(r.srv.cfg.DocRoot, "big.txt"))
				require.NoError(t, err)
				resp, body = roundTrip(t, c, br, "GET /big.txt HTTP/1.1\r\n\r\n")
				assert.Equal(t, 200, resp.StatusCode)
				assert.Equal(t, string(want), body)

				resp, _ = roundTrip(t, c, br, "GET /nothing-here HTTP/1.1\r\nConnection: close\r\n\r\n")
				assert.Equal(t, 404, resp.StatusCode)
				_, err = br.ReadByte()
				assert.ErrorIs(t, err, io.EOF)
			})
		}
	}
}

func TestServer_MalformedRequestLine(t *testing.T) {
	r := startServer(t, nil)
	c, br := r.dial(t)

	resp, body := roundTrip(t, c, br, "FETCH /judge.html HTTP/1.1\r\n\r\n")
	assert.Equal(t, 400, resp.StatusCode)
	// net/http folds "Connection: close" into Close
	assert.True(t, resp.Close)
	assert.Contains(t, body, "bad syntax")

	_, err := br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return r.stat("connections_live") == 0 }, time.Second, 5*time.Millisecond)
}

func TestServer_IdleConnectionEvictedOnce(t *testing.T) {
	r := startServer(t, func(c *Config) { c.TickInterval = 50 * time.Millisecond })
	_, br := r.dial(t)

	require.Eventually(t, func() bool { return r.stat("connections_accepted") == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	_, err := br.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	// expiry is three ticks; the tick that notices it may come one tick later
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 1, r.stat("connections_evicted"))
	assert.EqualValues(t, 0, r.stat("connections_live"))
}

func TestServer_ActiveConnectionOutlivesTimeout(t *testing.T) {
	r := startServer(t, func(c *Config) { c.TickInterval = 50 * time.Millisecond })
	c, br := r.dial(t)

	for i := 0; i < 8; i++ {
		resp, _ := roundTrip(t, c, br, "GET /judge.html HTTP/1.1\r\n\r\n")
		assert.Equal(t, 200, resp.StatusCode)
		time.Sleep(50 * time.Millisecond)
	}
	assert.EqualValues(t, 0, r.stat("connections_evicted"))
}

func TestServer_LoginAndRegister(t *testing.T) {
	for _, actor := range []ActorModel{Proactor, Reactor} {
		t.Run(actor.String(), func(t *testing.T) {
			r := startServer(t, func(c *Config) { c.ActorModel = actor })
			c, br := r.dial(t)
			post := func(target, form string) string {
				_, body := roundTrip(t, c, br, "POST "+target+" HTTP/1.1\r\nContent-Length: "+
					strconv.Itoa(len(form))+"\r\n\r\n"+form)
				return body
			}
			assert.Equal(t, testPages["welcome.html"], post("/2CGISQL.cgi", "user=alice&password=secret"))
			assert.Equal(t, testPages["logError.html"], post("/2CGISQL.cgi", "user=alice&password=nope"))
			assert.Equal(t, testPages["log.html"], post("/3CGISQL.cgi", "user=bob&password=pw"))
			assert.Equal(t, testPages["registerError.html"], post("/3CGISQL.cgi", "user=bob&password=pw"))
			assert.Equal(t, testPages["welcome.html"], post("/2CGISQL.cgi", "user=bob&password=pw"))
			assert.EqualValues(t, 2, r.srv.Stats()["free_handles"])
		})
	}
}

func TestServer_LeasePerRequest(t *testing.T) {
	for _, actor := range []ActorModel{Proactor, Reactor} {
		t.Run(actor.String(), func(t *testing.T) {
			leases := fake.NewPool(credentials.NewMemoryStore(nil).Handle())
			r := startServerWith(t, func(c *Config) { c.ActorModel = actor }, leases)
			c, br := r.dial(t)

			for i := 0; i < 3; i++ {
				resp, _ := roundTrip(t, c, br, "GET /judge.html HTTP/1.1\r\n\r\n")
				assert.Equal(t, 200, resp.StatusCode)
			}
			// one lease for the snapshot, at least one per request
			assert.GreaterOrEqual(t, leases.Acquired(), 4)
			assert.Equal(t, 0, leases.Leased())

			leases.FailAcquire(api.ErrPoolClosed)
			_, err := io.WriteString(c, "GET /judge.html HTTP/1.1\r\n\r\n")
			require.NoError(t, err)
			_, err = br.ReadByte()
			assert.ErrorIs(t, err, io.EOF)
			require.Eventually(t, func() bool { return r.stat("connections_live") == 0 }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestServer_ProactorConcurrentKeepAlive(t *testing.T) {
	for _, mode := range []TriggerMode{TriggerLTLT, TriggerETET} {
		t.Run(mode.String(), func(t *testing.T) {
			r := startServer(t, func(c *Config) {
				c.ActorModel = Proactor
				c.TriggerMode = mode
				c.Workers = 4
			})
			const clients, rounds = 16, 20
			var wg sync.WaitGroup
			for i := 0; i < clients; i++ {
				c, br := r.dial(t)
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < rounds; j++ {
						if _, err := io.WriteString(c, "GET /judge.html HTTP/1.1\r\n\r\n"); err != nil {
							t.Error(err)
							return
						}
						resp, err := http.ReadResponse(br, nil)
						if err != nil {
							t.Error(err)
							return
						}
						body, _ := io.ReadAll(resp.Body)
						if resp.StatusCode != 200 || string(body) != testPages["judge.html"] {
							t.Errorf("round %d: %d %q", j, resp.StatusCode, body)
							return
						}
					}
				}()
			}
			wg.Wait()
			assert.EqualValues(t, clients*rounds, r.stat("responses"))
			assert.EqualValues(t, 0, r.stat("connections_evicted"))
		})
	}
}

func TestServer_ProactorQueueFullRetries(t *testing.T) {
	for _, mode := range []TriggerMode{TriggerLTLT, TriggerLTET} {
		t.Run(mode.String(), func(t *testing.T) {
			leases := fake.NewPool(credentials.NewMemoryStore(nil).Handle())
			r := startServerWith(t, func(c *Config) {
				c.ActorModel = Proactor
				c.TriggerMode = mode
				c.Workers = 1
				c.QueueCapacity = 1
			}, leases)
			release := leases.Hold()
			defer release()

			queued := func() int {
				n, _ := r.srv.Stats()["queue_length"].(int)
				return n
			}
			send := func() (net.Conn, *bufio.Reader) {
				c, br := r.dial(t)
				_, err := io.WriteString(c, "GET /judge.html HTTP/1.1\r\n\r\n")
				require.NoError(t, err)
				return c, br
			}

			// the only worker blocks on its lease, the next job fills the queue
			_, br1 := send()
			require.Eventually(t, func() bool { return leases.Waiting() == 1 }, 2*time.Second, 5*time.Millisecond)
			_, br2 := send()
			require.Eventually(t, func() bool { return queued() == 1 }, 2*time.Second, 5*time.Millisecond)
			_, br3 := send()
			require.Eventually(t, func() bool { return r.stat("queue_rejected") == 1 }, 2*time.Second, 5*time.Millisecond)
			assert.EqualValues(t, 3, r.stat("connections_live"))

			// the refused request was already read; it is served without the
			// client sending anything more
			release()
			for _, br := range []*bufio.Reader{br1, br2, br3} {
				resp, err := http.ReadResponse(br, nil)
				require.NoError(t, err)
				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, 200, resp.StatusCode)
				assert.Equal(t, testPages["judge.html"], string(body))
			}
			assert.EqualValues(t, 1, r.stat("queue_rejected"))
			assert.EqualValues(t, 0, r.stat("connections_evicted"))
		})
	}
}

func TestServer_StopSurvivesFullPipe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1"
	cfg.Port = 0
	cfg.DocRoot = t.TempDir()
	cfg.HandleSignals = false
	cfg.TickInterval = time.Hour

	srv, err := New(cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	// fill the signal pipe with ticks so the stop tag itself is dropped
	for i := 0; i < 1<<17; i++ {
		srv.notify(tagTick)
	}
	srv.Shutdown()

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		srv.Close()
		t.Fatal("stop request lost on a full pipe")
	}
}

func TestNew_StartupFailureIsCoded(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1"
	cfg.Port = taken.Addr().(*net.TCPAddr).Port
	cfg.DocRoot = t.TempDir()

	srv, err := New(cfg)
	require.Error(t, err)
	assert.Nil(t, srv)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeStartup, apiErr.Code)
	assert.ErrorIs(t, err, unix.EADDRINUSE)
}

func TestServer_BusyAtConnectionLimit(t *testing.T) {
	r := startServer(t, func(c *Config) { c.MaxConnections = 1 })
	first, firstBr := r.dial(t)
	require.Eventually(t, func() bool { return r.stat("connections_live") == 1 }, time.Second, 5*time.Millisecond)

	_, br := r.dial(t)
	got, err := io.ReadAll(br)
	require.NoError(t, err)
	assert.Equal(t, "Internal server busy", string(got))
	assert.EqualValues(t, 1, r.stat("connections_rejected"))

	// the registered connection still works
	resp, _ := roundTrip(t, first, firstBr, "GET /judge.html HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, resp.StatusCode)
}

func TestServer_RunOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1"
	cfg.Port = 0
	cfg.DocRoot = t.TempDir()
	cfg.HandleSignals = false

	srv, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored context cancellation")
	}
	assert.ErrorIs(t, srv.Run(context.Background()), api.ErrServerClosed)
	assert.NoError(t, srv.Close())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DocRoot = t.TempDir()
	require.NoError(t, cfg.Validate())

	cfg.Workers = 0
	cfg.TickInterval = 0
	cfg.DocRoot = filepath.Join(cfg.DocRoot, "missing")
	err := cfg.Validate()
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.ErrCodeInvalidArgument, apiErr.Code)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "tick interval")
	assert.Contains(t, err.Error(), "doc root")
}

func TestTriggerAndActorText(t *testing.T) {
	var m TriggerMode
	require.NoError(t, m.UnmarshalText([]byte("3")))
	assert.Equal(t, TriggerETET, m)
	assert.True(t, m.ListenerET())
	assert.True(t, m.ConnET())
	require.NoError(t, m.UnmarshalText([]byte("LT-ET")))
	assert.Equal(t, TriggerLTET, m)
	assert.False(t, m.ListenerET())
	assert.ErrorIs(t, m.UnmarshalText([]byte("4")), api.ErrInvalidArgument)

	var a ActorModel
	require.NoError(t, a.UnmarshalText([]byte("reactor")))
	assert.Equal(t, Reactor, a)
	require.NoError(t, a.UnmarshalText([]byte("0")))
	assert.Equal(t, Proactor, a)
	assert.Error(t, a.UnmarshalText([]byte("actor")))
}
