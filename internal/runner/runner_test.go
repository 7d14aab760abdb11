package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/swarm/internal/check"
	"github.com/wesleyorama2/swarm/internal/feeder"
	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/session"
	"github.com/wesleyorama2/swarm/internal/template"
)

func buildScenario(t *testing.T, baseURL string, items ...scenario.Buildable) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.NewBuilder("test").
		Protocol(scenario.Protocol{BaseURL: baseURL}).
		Exec(items...).
		Build()
	require.NoError(t, err)
	return sc
}

// okSender answers every request with 200 and an empty JSON object.
func okSender(calls *atomic.Int32) swarmhttp.Sender {
	return swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		if calls != nil {
			calls.Add(1)
		}
		return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}, Body: []byte(`{}`)}, nil
	})
}

func TestExecutor_LoginFlowAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"token":"abc123"}`)
		case "/me":
			if r.Header.Get("Authorization") != "Bearer abc123" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"name":"alice"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sc := buildScenario(t, srv.URL,
		scenario.HTTP("login").Post("/login").Check(check.JSONPath("$.token").SaveAs("token")),
		scenario.HTTP("me").Get("/me").Header("Authorization", "Bearer #{token}").
			Check(check.JSONPath("$.name").Is(session.String("alice"))),
	)
	log := metrics.NewLog()
	rc := &RunContext{Client: swarmhttp.WrapClient(srv.Client()), Sink: log}

	sess, outcomes, err := NewExecutor(rc, 1).Execute(context.Background(), sc, session.New(1, sc.Name()))
	require.NoError(t, err)

	token, err := sess.String("token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.True(t, o.OK(), "%s: %v", o.Step, o.Err)
		assert.Equal(t, 200, o.StatusCode)
	}
	assert.Len(t, log.Requests(), 2)
	assert.Equal(t, "login", log.Requests()[0].Step)
}

func TestExecutor_UnresolvedVariableSendsNothing(t *testing.T) {
	var calls atomic.Int32
	sc := buildScenario(t, "http://example.test",
		scenario.HTTP("get item").Get("/items/#{itemId}"),
		scenario.HTTP("never").Get("/never"),
	)
	log := metrics.NewLog()
	rc := &RunContext{Client: okSender(&calls), Sink: log}

	_, outcomes, err := NewExecutor(rc, 7).Execute(context.Background(), sc, session.New(7, sc.Name()))

	require.Error(t, err)
	assert.True(t, errors.Is(err, template.ErrUnresolvedVariable))
	var uv *template.UnresolvedVariableError
	require.True(t, errors.As(err, &uv))
	assert.Equal(t, "itemId", uv.Name)

	assert.Equal(t, int32(0), calls.Load())
	require.Len(t, outcomes, 1)
	assert.Equal(t, metrics.StatusKO, outcomes[0].Status)
	assert.Zero(t, outcomes[0].Latency)
	assert.True(t, outcomes[0].NotSent)
	assert.Equal(t, 7, log.Requests()[0].VUID)
	assert.True(t, log.Requests()[0].NotSent)
}

func TestExecutor_UnresolvedInHeaderAndBody(t *testing.T) {
	tests := []struct {
		name string
		req  *scenario.RequestBuilder
	}{
		{"header", scenario.HTTP("h").Get("/x").Header("X-Token", "#{missing}")},
		{"body", scenario.HTTP("b").Post("/x").Body(`{"id":"#{missing}"}`)},
		{"name", scenario.HTTP("item #{missing}").Get("/x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			sc := buildScenario(t, "http://example.test", tt.req)
			_, _, err := NewExecutor(&RunContext{Client: okSender(&calls)}, 1).
				Execute(context.Background(), sc, session.New(1, "test"))
			assert.ErrorIs(t, err, template.ErrUnresolvedVariable)
			assert.Equal(t, int32(0), calls.Load())
		})
	}
}

func TestExecutor_NetworkError(t *testing.T) {
	failing := swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		if req.URL == "http://example.test/down" {
			return nil, &swarmhttp.NetworkError{Method: req.Method, URL: req.URL, Err: errors.New("connection refused")}
		}
		return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}}, nil
	})

	t.Run("continues by default", func(t *testing.T) {
		sc := buildScenario(t, "http://example.test",
			scenario.HTTP("down").Get("/down"),
			scenario.HTTP("up").Get("/up"),
		)
		_, outcomes, err := NewExecutor(&RunContext{Client: failing}, 1).Execute(context.Background(), sc, session.New(1, "test"))
		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		assert.Equal(t, metrics.StatusKO, outcomes[0].Status)
		assert.ErrorIs(t, outcomes[0].Err, swarmhttp.ErrNetwork)
		assert.Equal(t, metrics.StatusOK, outcomes[1].Status)
	})

	t.Run("fatal request fails the user", func(t *testing.T) {
		sc := buildScenario(t, "http://example.test",
			scenario.HTTP("down").Get("/down").Fatal(),
			scenario.HTTP("up").Get("/up"),
		)
		_, outcomes, err := NewExecutor(&RunContext{Client: failing}, 1).Execute(context.Background(), sc, session.New(1, "test"))
		assert.ErrorIs(t, err, swarmhttp.ErrNetwork)
		assert.Len(t, outcomes, 1)
	})
}

func TestExecutor_CheckFailure(t *testing.T) {
	notFound := swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		return &swarmhttp.Response{StatusCode: 404, Headers: http.Header{}}, nil
	})

	t.Run("non-fatal check continues", func(t *testing.T) {
		sc := buildScenario(t, "http://example.test",
			scenario.HTTP("first").Get("/a"),
			scenario.HTTP("second").Get("/b"),
		)
		_, outcomes, err := NewExecutor(&RunContext{Client: notFound}, 1).Execute(context.Background(), sc, session.New(1, "test"))
		require.NoError(t, err)
		require.Len(t, outcomes, 2)
		for _, o := range outcomes {
			assert.Equal(t, metrics.StatusKO, o.Status)
			assert.ErrorIs(t, o.Err, check.ErrCheckFailed)
			assert.Equal(t, 404, o.StatusCode)
		}
	})

	t.Run("fatal check fails the user", func(t *testing.T) {
		sc := buildScenario(t, "http://example.test",
			scenario.HTTP("first").Get("/a").Check(check.Status().Is(session.Int(200)).Fatal()),
			scenario.HTTP("second").Get("/b"),
		)
		_, outcomes, err := NewExecutor(&RunContext{Client: notFound}, 1).Execute(context.Background(), sc, session.New(1, "test"))
		assert.ErrorIs(t, err, check.ErrCheckFailed)
		assert.Len(t, outcomes, 1)
	})
}

func TestExecutor_ProtocolHeadersOverridden(t *testing.T) {
	var got http.Header
	sender := swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		got = req.Header.Clone()
		return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}}, nil
	})
	proto := scenario.Protocol{BaseURL: "http://example.test"}.
		WithHeader("Accept", "application/json").
		WithHeader("User-Agent", "swarm")

	sc, err := scenario.NewBuilder("headers").Protocol(proto).
		Exec(scenario.HTTP("req").Get("/").Header("Accept", "text/html")).
		Build()
	require.NoError(t, err)

	_, _, err = NewExecutor(&RunContext{Client: sender}, 1).Execute(context.Background(), sc, session.New(1, "headers"))
	require.NoError(t, err)
	assert.Equal(t, "text/html", got.Get("Accept"))
	assert.Equal(t, "swarm", got.Get("User-Agent"))
}

func TestExecutor_OnceRunsOncePerUser(t *testing.T) {
	var logins atomic.Int32
	sender := swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		if req.URL == "http://example.test/login" {
			logins.Add(1)
		}
		return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}}, nil
	})

	authenticate := scenario.Once("authenticated", scenario.HTTP("login").Post("/login"))
	visit := scenario.NewChain().Exec(authenticate, scenario.HTTP("page").Get("/page"))
	sc := buildScenario(t, "http://example.test",
		scenario.NewChain().Repeat(3, visit),
	)

	_, outcomes, err := NewExecutor(&RunContext{Client: sender}, 1).Execute(context.Background(), sc, session.New(1, "test"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), logins.Load())
	assert.Len(t, outcomes, 4)
}

func TestExecutor_RepeatCounterAndConditional(t *testing.T) {
	var urls []string
	sender := swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		urls = append(urls, req.URL)
		return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}}, nil
	})

	sc := buildScenario(t, "http://example.test",
		scenario.NewChain().
			RepeatCounter(3, "i", scenario.HTTP("item").Get("/items/#{i}")).
			Set("mode", session.String("admin")).
			DoIfOrElse(scenario.Equals("mode", session.String("admin")),
				scenario.HTTP("admin").Get("/admin"),
				scenario.HTTP("user").Get("/user")),
	)

	sess, _, err := NewExecutor(&RunContext{Client: sender}, 1).Execute(context.Background(), sc, session.New(1, "test"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"http://example.test/items/0",
		"http://example.test/items/1",
		"http://example.test/items/2",
		"http://example.test/admin",
	}, urls)
	i, err := sess.Int("i")
	require.NoError(t, err)
	assert.Equal(t, int64(2), i)
}

func TestExecutor_ConditionalOnSavedValue(t *testing.T) {
	tests := []struct {
		name string
		x    string
		want []string
	}{
		{"runs b when x is 1", "1", []string{"/a", "/b"}},
		{"skips b when x is 0", "0", []string{"/a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var paths []string
			sender := swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
				paths = append(paths, strings.TrimPrefix(req.URL, "http://example.test"))
				body := fmt.Sprintf(`{"x":%q}`, tt.x)
				return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}, Body: []byte(body)}, nil
			})

			sc := buildScenario(t, "http://example.test",
				scenario.HTTP("a").Get("/a").Check(check.JSONPath("$.x").SaveAs("x")),
				scenario.NewChain().DoIf(scenario.Equals("x", session.String("1")),
					scenario.HTTP("b").Get("/b")),
			)

			sess, outcomes, err := NewExecutor(&RunContext{Client: sender}, 1).Execute(context.Background(), sc, session.New(1, "test"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths)
			assert.Len(t, outcomes, len(tt.want))

			x, err := sess.String("x")
			require.NoError(t, err)
			assert.Equal(t, tt.x, x)
		})
	}
}

func TestExecutor_MutationErrorFailsUser(t *testing.T) {
	boom := errors.New("boom")
	sc := buildScenario(t, "http://example.test",
		scenario.NewChain().Mutate("explode", func(s *session.Session) (*session.Session, error) {
			return nil, boom
		}),
	)
	_, _, err := NewExecutor(&RunContext{Client: okSender(nil)}, 1).Execute(context.Background(), sc, session.New(1, "test"))
	assert.ErrorIs(t, err, boom)
}

func TestExecutor_FeedBindsColumns(t *testing.T) {
	f, err := feeder.New("users", feeder.Inline(
		feeder.Row{"username": "alice", "password": "a1"},
	), feeder.Queue)
	require.NoError(t, err)

	sc := buildScenario(t, "http://example.test",
		scenario.NewChain().Feed(f, "username"),
	)
	rc := &RunContext{Client: okSender(nil)}

	sess, _, err := NewExecutor(rc, 1).Execute(context.Background(), sc, session.New(1, "test"))
	require.NoError(t, err)
	name, err := sess.String("username")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)
	assert.False(t, sess.Contains("password"))

	// queue is now empty
	_, _, err = NewExecutor(rc, 2).Execute(context.Background(), sc, session.New(2, "test"))
	assert.ErrorIs(t, err, feeder.ErrFeederExhausted)
}

func TestExecutor_PauseInterruptedByStop(t *testing.T) {
	sc := buildScenario(t, "http://example.test",
		scenario.NewChain().Pause(10*time.Second),
		scenario.HTTP("after").Get("/after"),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, outcomes, err := NewExecutor(&RunContext{Client: okSender(nil)}, 1).Execute(ctx, sc, session.New(1, "test"))
	assert.ErrorIs(t, err, ErrAborted)
	assert.Empty(t, outcomes)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// blockingSender holds each request until release is closed, or until its
// context is done.
func blockingSender(started chan<- struct{}, release <-chan struct{}) swarmhttp.Sender {
	return swarmhttp.SenderFunc(func(ctx context.Context, req *swarmhttp.Request) (*swarmhttp.Response, error) {
		started <- struct{}{}
		select {
		case <-release:
			return &swarmhttp.Response{StatusCode: 200, Headers: http.Header{}}, nil
		case <-ctx.Done():
			return nil, &swarmhttp.NetworkError{Method: req.Method, URL: req.URL, Err: ctx.Err()}
		}
	})
}

func TestExecutor_StopPolicies(t *testing.T) {
	tests := []struct {
		name         string
		policy       StopPolicy
		wantOutcomes int
	}{
		{"finish step records the in-flight request", FinishStep, 1},
		{"abort now drops the in-flight request", AbortNow, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			started := make(chan struct{}, 1)
			release := make(chan struct{})
			rc := &RunContext{Client: blockingSender(started, release), StopPolicy: tt.policy}
			sc := buildScenario(t, "http://example.test",
				scenario.HTTP("slow").Get("/slow"),
				scenario.HTTP("next").Get("/next"),
			)

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			var outcomes []Outcome
			var err error
			go func() {
				defer close(done)
				_, outcomes, err = NewExecutor(rc, 1).Execute(ctx, sc, session.New(1, "test"))
			}()

			<-started
			cancel()
			if tt.policy == FinishStep {
				time.Sleep(20 * time.Millisecond)
				close(release)
			}
			<-done

			assert.ErrorIs(t, err, ErrAborted)
			assert.Len(t, outcomes, tt.wantOutcomes)
			if tt.wantOutcomes == 1 {
				assert.Equal(t, "slow", outcomes[0].Step)
				assert.True(t, outcomes[0].OK())
			}
		})
	}
}

func TestExecutor_AbortCancelsFinishStep(t *testing.T) {
	started := make(chan struct{}, 1)
	abort := make(chan struct{})
	log := metrics.NewLog()
	rc := &RunContext{Client: blockingSender(started, nil), Sink: log, StopPolicy: FinishStep, Abort: abort}
	sc := buildScenario(t, "http://example.test", scenario.HTTP("slow").Get("/slow"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	var outcomes []Outcome
	var err error
	go func() {
		defer close(done)
		_, outcomes, err = NewExecutor(rc, 1).Execute(ctx, sc, session.New(1, "test"))
	}()

	<-started
	cancel()
	close(abort)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("request was not aborted")
	}
	assert.ErrorIs(t, err, ErrAborted)
	assert.Empty(t, outcomes)
	assert.Empty(t, log.Requests())
}

func TestVirtualUser_ReportsTerminalStateOnce(t *testing.T) {
	log := metrics.NewLog()
	sc := buildScenario(t, "http://example.test", scenario.HTTP("ok").Get("/"))
	vu := NewVirtualUser(3, sc, &RunContext{Client: okSender(nil), Sink: log})
	assert.Equal(t, StatePending, vu.GetState())

	first := vu.Run(context.Background())
	second := vu.Run(context.Background())

	assert.Equal(t, StateCompleted, first.State)
	assert.Equal(t, first.End, second.End)
	assert.Equal(t, StateCompleted, vu.GetState())
	assert.Equal(t, 1, log.CountUsers(metrics.UserStarted))
	assert.Equal(t, 1, log.CountUsers(metrics.UserCompleted))
	assert.Len(t, log.Users(), 2)

	select {
	case <-vu.Done():
	default:
		t.Fatal("Done() not closed after Run")
	}
}

func TestVirtualUser_TerminalStates(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		items []scenario.Buildable
		want  State
		event metrics.UserEvent
	}{
		{"completed", context.Background(), []scenario.Buildable{scenario.HTTP("ok").Get("/")}, StateCompleted, metrics.UserCompleted},
		{"failed", context.Background(), []scenario.Buildable{scenario.HTTP("bad").Get("/#{nope}")}, StateFailed, metrics.UserFailed},
		{"aborted", cancelled, []scenario.Buildable{scenario.HTTP("ok").Get("/")}, StateAborted, metrics.UserAborted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := metrics.NewLog()
			sc := buildScenario(t, "http://example.test", tt.items...)
			res := NewVirtualUser(1, sc, &RunContext{Client: okSender(nil), Sink: log}).Run(tt.ctx)

			assert.Equal(t, tt.want, res.State)
			assert.True(t, res.State.Terminal())
			assert.Equal(t, 1, log.CountUsers(tt.event))
			assert.NotNil(t, res.Session)
		})
	}
}

func TestParseStopPolicy(t *testing.T) {
	p, err := ParseStopPolicy("abortNow")
	require.NoError(t, err)
	assert.Equal(t, AbortNow, p)

	p, err = ParseStopPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FinishStep, p)

	_, err = ParseStopPolicy("later")
	assert.Error(t, err)
}
