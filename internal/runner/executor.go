package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	swarmhttp "github.com/wesleyorama2/swarm/internal/http"
	"github.com/wesleyorama2/swarm/internal/metrics"
	"github.com/wesleyorama2/swarm/internal/scenario"
	"github.com/wesleyorama2/swarm/internal/session"
)

// ErrAborted is returned when a run stop ends a user before its last step.
var ErrAborted = errors.New("virtual user aborted")

// Outcome is the result of one executed request.
type Outcome struct {
	Step       string
	Status     metrics.Status
	StatusCode int
	Latency    time.Duration
	Timestamp  time.Time
	Bytes      int64
	Err        error
	NotSent    bool
}

// OK reports whether the request passed all its checks.
func (o Outcome) OK() bool { return o.Status == metrics.StatusOK }

// Record converts the outcome for a sink.
func (o Outcome) Record(vuID int, scenarioName string) metrics.RequestRecord {
	rec := metrics.RequestRecord{
		VUID:       vuID,
		Scenario:   scenarioName,
		Step:       o.Step,
		Status:     o.Status,
		StatusCode: o.StatusCode,
		Latency:    o.Latency,
		Timestamp:  o.Timestamp,
		Bytes:      o.Bytes,
		NotSent:    o.NotSent,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	return rec
}

// Executor walks a scenario's steps for one virtual user.
type Executor struct {
	rc       *RunContext
	vuID     int
	scenario *scenario.Scenario
	log      logrus.FieldLogger
	outcomes []Outcome
}

func NewExecutor(rc *RunContext, vuID int) *Executor {
	return &Executor{rc: rc, vuID: vuID}
}

// Execute runs every step of sc starting from sess. It returns the session
// as it was when execution ended, the outcomes of every recorded request,
// and a non-nil error when the user failed or was aborted (ErrAborted).
//
// ctx is the run's stop signal: once it is done no further step starts.
func (e *Executor) Execute(ctx context.Context, sc *scenario.Scenario, sess *session.Session) (*session.Session, []Outcome, error) {
	e.scenario = sc
	e.outcomes = nil
	e.log = e.rc.Log().WithFields(logrus.Fields{
		"vu":       e.vuID,
		"scenario": sc.Name(),
	})

	sess, err := e.runSteps(ctx, sc.Steps(), sess)
	return sess, e.outcomes, err
}

func (e *Executor) runSteps(ctx context.Context, steps []scenario.Step, sess *session.Session) (*session.Session, error) {
	for _, st := range steps {
		if ctx.Err() != nil {
			return sess, ErrAborted
		}
		var err error
		sess, err = e.runStep(ctx, st, sess)
		if err != nil {
			return sess, err
		}
	}
	return sess, nil
}

func (e *Executor) runStep(ctx context.Context, st scenario.Step, sess *session.Session) (*session.Session, error) {
	switch st := st.(type) {
	case *scenario.Request:
		return e.runRequest(ctx, st, sess)

	case *scenario.Pause:
		return sess, e.pause(ctx, st)

	case *scenario.Conditional:
		if st.Predicate(sess) {
			return e.runSteps(ctx, st.Then, sess)
		}
		return e.runSteps(ctx, st.Else, sess)

	case *scenario.Repeat:
		for i := 0; i < st.Times; i++ {
			if st.Counter != "" {
				sess = sess.Set(st.Counter, session.Int(int64(i)))
			}
			var err error
			if sess, err = e.runSteps(ctx, st.Body, sess); err != nil {
				return sess, err
			}
		}
		return sess, nil

	case *scenario.Group:
		return e.runSteps(ctx, st.Steps, sess)

	case *scenario.SessionMutation:
		next, err := st.Fn(sess)
		if err != nil {
			return sess, fmt.Errorf("%s: %w", st.Name, err)
		}
		if next == nil {
			return sess, fmt.Errorf("%s: mutation returned no session", st.Name)
		}
		return next, nil

	case *scenario.Feed:
		return e.feed(st, sess)

	default:
		return sess, fmt.Errorf("unsupported step %T", st)
	}
}

func (e *Executor) feed(st *scenario.Feed, sess *session.Session) (*session.Session, error) {
	row, err := st.Feeder.Next()
	if err != nil {
		return sess, fmt.Errorf("%s: %w", st.StepName(), err)
	}
	values := make(map[string]session.Value, len(row))
	if len(st.Columns) == 0 {
		for k, v := range row {
			values[k] = session.String(v)
		}
	} else {
		for _, col := range st.Columns {
			if v, ok := row[col]; ok {
				values[col] = session.String(v)
			}
		}
	}
	return sess.SetAll(values), nil
}

func (e *Executor) pause(ctx context.Context, p *scenario.Pause) error {
	d := p.Min
	if p.Max > p.Min {
		d += rand.N(p.Max - p.Min)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrAborted
	case <-timer.C:
		return nil
	}
}

func (e *Executor) runRequest(ctx context.Context, r *scenario.Request, sess *session.Session) (*session.Session, error) {
	name, err := r.Name.Resolve(sess)
	if err != nil {
		return sess, e.unresolved(r.Name.String(), err)
	}
	req, err := e.buildRequest(r, sess)
	if err != nil {
		return sess, e.unresolved(name, err)
	}

	if lb := e.rc.Throttle; lb != nil {
		if err := lb.Wait(ctx); err != nil {
			return sess, ErrAborted
		}
	}

	sendCtx := ctx
	if e.rc.StopPolicy == FinishStep {
		sendCtx = context.WithoutCancel(ctx)
	}
	if e.rc.Abort != nil {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithCancel(sendCtx)
		defer cancel()
		go func() {
			select {
			case <-e.rc.Abort:
				cancel()
			case <-sendCtx.Done():
			}
		}()
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.rc.Client.Send(sendCtx, req)
	latency := time.Since(start)

	if err != nil {
		if (e.rc.StopPolicy == AbortNow && ctx.Err() != nil) || e.rc.aborted() {
			return sess, ErrAborted
		}
		e.emit(Outcome{Step: name, Status: metrics.StatusKO, Latency: latency, Timestamp: start, Err: err})
		e.log.WithField("step", name).WithError(err).Debug("request failed")
		if r.Fatal {
			return sess, fmt.Errorf("%s: %w", name, err)
		}
		return sess, nil
	}

	out := Outcome{
		Step:       name,
		Status:     metrics.StatusOK,
		StatusCode: resp.StatusCode,
		Latency:    latency,
		Timestamp:  start,
		Bytes:      int64(len(resp.Body)),
	}

	var fatal error
	for _, c := range r.Checks {
		next, err := c.Evaluate(resp, sess)
		if err != nil {
			out.Status = metrics.StatusKO
			out.Err = err
			if c.IsFatal() || r.Fatal {
				fatal = fmt.Errorf("%s: %w", name, err)
			}
			break
		}
		sess = next
	}
	e.emit(out)

	if fatal != nil {
		return sess, fatal
	}
	if out.Err != nil {
		e.log.WithField("step", name).WithError(out.Err).Debug("check failed")
	}
	return sess, nil
}

// buildRequest resolves every template of r. Protocol headers come first
// and are overridden by request headers of the same name.
func (e *Executor) buildRequest(r *scenario.Request, sess *session.Session) (*swarmhttp.Request, error) {
	proto := e.scenario.Protocol()

	rawURL, err := r.URL.Resolve(sess)
	if err != nil {
		return nil, err
	}
	req := swarmhttp.NewRequest(r.Method, proto.ResolveURL(rawURL))

	for _, headers := range [][]scenario.Header{proto.Headers, r.Headers} {
		for _, h := range headers {
			v, err := h.Value.Resolve(sess)
			if err != nil {
				return nil, fmt.Errorf("header %s: %w", h.Name, err)
			}
			req.WithHeader(h.Name, v)
		}
	}

	if r.Body != nil {
		body, err := r.Body.Resolve(sess)
		if err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		req.WithBody([]byte(body))
	}
	return req, nil
}

// unresolved records a zero-latency KO for a request that could not be
// built and returns the error that fails the user.
func (e *Executor) unresolved(step string, err error) error {
	e.emit(Outcome{Step: step, Status: metrics.StatusKO, Timestamp: time.Now(), Err: err, NotSent: true})
	return fmt.Errorf("%s: %w", step, err)
}

func (e *Executor) emit(o Outcome) {
	e.outcomes = append(e.outcomes, o)
	e.rc.sink().RecordRequest(o.Record(e.vuID, e.scenario.Name()))
}
