package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glimte/sedaflow-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink records every envelope written to it and signals each
// write on a channel.
type captureSink struct {
	mu   sync.Mutex
	envs []*contracts.Envelope
	ch   chan *contracts.Envelope
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan *contracts.Envelope, 64)}
}

func (s *captureSink) Write(ctx context.Context, env *contracts.Envelope) error {
	s.mu.Lock()
	s.envs = append(s.envs, env)
	s.mu.Unlock()
	s.ch <- env
	return nil
}

func (s *captureSink) wait(t *testing.T) *contracts.Envelope {
	t.Helper()
	select {
	case env := <-s.ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sink write")
		return nil
	}
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.envs)
}

func setHeader(key string, value any) TransformFunc {
	return func(ctx context.Context, env *contracts.Envelope) error {
		env.SetHeader(key, value)
		return nil
	}
}

func failAlways(msg string) TransformFunc {
	return func(ctx context.Context, env *contracts.Envelope) error {
		return errors.New(msg)
	}
}

func TestRegister(t *testing.T) {
	t.Run("duplicate route is rejected", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		require.NoError(t, router.Register(From("orders")))
		err := router.Register(From("orders"))
		assert.ErrorIs(t, err, contracts.ErrDuplicateRoute)
	})

	t.Run("duplicate stage is rejected", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		require.NoError(t, router.Register(FromStage("audit", StageConfig{})))
		err := router.Register(FromStage("audit", StageConfig{}))
		assert.ErrorIs(t, err, contracts.ErrDuplicateStage)
	})

	t.Run("empty entry is rejected", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		assert.Error(t, router.Register(&Route{}))
	})
}

func TestDispatch(t *testing.T) {
	t.Run("unknown entry", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		err := router.Dispatch(context.Background(), "nowhere", contracts.NewEnvelopeString("x"))
		assert.ErrorIs(t, err, contracts.ErrUnknownEntry)
	})

	t.Run("synchronous steps run in declared order", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		var order []string
		record := func(name string) TransformFunc {
			return func(ctx context.Context, env *contracts.Envelope) error {
				order = append(order, name)
				return nil
			}
		}

		require.NoError(t, router.Register(From("seq").
			Transform(record("first")).
			Transform(record("second")).
			Transform(record("third"))))

		require.NoError(t, router.Dispatch(context.Background(), "seq", contracts.NewEnvelopeString("x")))
		assert.Equal(t, []string{"first", "second", "third"}, order)
	})

	t.Run("returns before asynchronous stage work completes", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		release := make(chan struct{})
		processed := make(chan struct{})
		require.NoError(t, router.Register(FromStage("slow", StageConfig{Capacity: 4}).
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				<-release
				close(processed)
				return nil
			})))
		require.NoError(t, router.Register(From("in").ToStage("slow")))

		require.NoError(t, router.Dispatch(context.Background(), "in", contracts.NewEnvelopeString("x")))

		select {
		case <-processed:
			t.Fatal("stage work finished before release; dispatch should not wait for it")
		default:
		}
		close(release)

		select {
		case <-processed:
		case <-time.After(time.Second):
			t.Fatal("stage never processed the envelope")
		}
	})

	t.Run("dispatch after shutdown fails", func(t *testing.T) {
		router := NewRouter()
		require.NoError(t, router.Register(From("in")))
		require.NoError(t, router.Shutdown(context.Background()))

		err := router.Dispatch(context.Background(), "in", contracts.NewEnvelopeString("x"))
		assert.ErrorIs(t, err, contracts.ErrRouterClosed)
	})
}

func TestChoice(t *testing.T) {
	newChoiceRouter := func(t *testing.T) (*Router, *captureSink, *captureSink, *captureSink) {
		router := NewRouter()
		t.Cleanup(func() { router.Shutdown(context.Background()) })

		vip, std, other := newCaptureSink(), newCaptureSink(), newCaptureSink()
		require.NoError(t, router.RegisterSink("vip", vip))
		require.NoError(t, router.RegisterSink("standard", std))
		require.NoError(t, router.RegisterSink("other", other))

		require.NoError(t, router.Register(From("orders").Choice(Choice{
			Branches: []Branch{
				{When: HeaderGreaterThan("amount", 3000), Then: NewFlow().ToSink("vip")},
				{When: HeaderGreaterThan("amount", 1000), Then: NewFlow().ToSink("standard")},
			},
			Otherwise: NewFlow().ToSink("other"),
		})))
		return router, vip, std, other
	}

	dispatchAmount := func(t *testing.T, router *Router, amount int) {
		t.Helper()
		env := contracts.NewEnvelopeString("order")
		env.SetHeader("amount", amount)
		require.NoError(t, router.Dispatch(context.Background(), "orders", env))
	}

	t.Run("amount above 3000 takes the VIP branch", func(t *testing.T) {
		router, vip, std, other := newChoiceRouter(t)
		dispatchAmount(t, router, 3500)

		vip.wait(t)
		assert.Equal(t, 0, std.count())
		assert.Equal(t, 0, other.count())
	})

	t.Run("first matching branch wins in declaration order", func(t *testing.T) {
		router, vip, std, _ := newChoiceRouter(t)
		dispatchAmount(t, router, 2000)

		std.wait(t)
		assert.Equal(t, 0, vip.count())
	})

	t.Run("otherwise catches unmatched envelopes", func(t *testing.T) {
		router, vip, std, other := newChoiceRouter(t)
		dispatchAmount(t, router, 500)

		other.wait(t)
		assert.Equal(t, 0, vip.count())
		assert.Equal(t, 0, std.count())
	})

	t.Run("no match and no otherwise passes through unchanged", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		after := newCaptureSink()
		require.NoError(t, router.RegisterSink("after", after))
		require.NoError(t, router.Register(From("orders").
			Choice(Choice{Branches: []Branch{
				{When: HeaderExists("never"), Then: NewFlow().Transform(failAlways("unreachable"))},
			}}).
			ToSink("after")))

		env := contracts.NewEnvelopeString("payload")
		require.NoError(t, router.Dispatch(context.Background(), "orders", env))

		got := after.wait(t)
		assert.Equal(t, "payload", got.BodyString())
	})
}

func TestWireTap(t *testing.T) {
	t.Run("copy reaches the tap with fresh ID and shared correlation", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		audit := newCaptureSink()
		require.NoError(t, router.RegisterSink("audit", audit))
		require.NoError(t, router.Register(FromStage("audit", StageConfig{}).ToSink("audit")))

		done := newCaptureSink()
		require.NoError(t, router.RegisterSink("done", done))
		require.NoError(t, router.Register(From("orders").
			WireTap("audit").
			ToSink("done")))

		env := contracts.NewEnvelopeString("order-1")
		require.NoError(t, router.Dispatch(context.Background(), "orders", env))

		original := done.wait(t)
		tapped := audit.wait(t)

		assert.Equal(t, env.ID, original.ID)
		assert.NotEqual(t, env.ID, tapped.ID)
		assert.Equal(t, env.CorrelationID, tapped.CorrelationID)
		assert.Equal(t, "order-1", tapped.BodyString())
	})

	t.Run("tap failure never affects the primary flow", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		tapFailed := make(chan struct{})
		require.NoError(t, router.Register(FromStage("broken-tap", StageConfig{}).
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				defer close(tapFailed)
				return errors.New("tap target down")
			})))

		done := newCaptureSink()
		require.NoError(t, router.RegisterSink("done", done))
		require.NoError(t, router.Register(From("orders").
			WireTap("broken-tap").
			Transform(setHeader("processed", true)).
			ToSink("done")))

		env := contracts.NewEnvelopeString("order-2")
		require.NoError(t, router.Dispatch(context.Background(), "orders", env))

		original := done.wait(t)
		assert.True(t, original.HeaderBool("processed"))

		select {
		case <-tapFailed:
		case <-time.After(time.Second):
			t.Fatal("tap target never executed")
		}
	})

	t.Run("tap header mutations stay on the copy", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		tapSeen := newCaptureSink()
		require.NoError(t, router.RegisterSink("tapSeen", tapSeen))
		require.NoError(t, router.Register(FromStage("tap", StageConfig{}).
			Transform(setHeader("tapOnly", true)).
			ToSink("tapSeen")))

		done := newCaptureSink()
		require.NoError(t, router.RegisterSink("done", done))
		require.NoError(t, router.Register(From("orders").
			WireTap("tap").
			ToSink("done")))

		require.NoError(t, router.Dispatch(context.Background(), "orders", contracts.NewEnvelopeString("x")))

		original := done.wait(t)
		tapped := tapSeen.wait(t)
		assert.True(t, tapped.HeaderBool("tapOnly"))
		assert.False(t, original.HeaderBool("tapOnly"))
	})

	t.Run("tap inside a choice branch fires only when the branch matches", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		vipTap := newCaptureSink()
		require.NoError(t, router.RegisterSink("vipTap", vipTap))
		require.NoError(t, router.Register(FromStage("vip-audit", StageConfig{}).ToSink("vipTap")))

		done := newCaptureSink()
		require.NoError(t, router.RegisterSink("done", done))
		require.NoError(t, router.Register(From("orders").
			Choice(Choice{
				Branches: []Branch{
					{When: HeaderGreaterThan("amount", 3000), Then: NewFlow().WireTap("vip-audit")},
				},
			}).
			ToSink("done")))

		premium := contracts.NewEnvelopeString("premium")
		premium.SetHeader("amount", 4200)
		require.NoError(t, router.Dispatch(context.Background(), "orders", premium))

		regular := contracts.NewEnvelopeString("regular")
		regular.SetHeader("amount", 120)
		require.NoError(t, router.Dispatch(context.Background(), "orders", regular))

		done.wait(t)
		done.wait(t)
		tapped := vipTap.wait(t)
		assert.Equal(t, "premium", tapped.BodyString())
		assert.Equal(t, 1, vipTap.count())
	})
}

func TestRedelivery(t *testing.T) {
	t.Run("exactly N redeliveries then one dead letter", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		dlq := newCaptureSink()
		require.NoError(t, router.RegisterSink("dlq", dlq))
		require.NoError(t, router.Register(FromStage("dlq", StageConfig{}).ToSink("dlq")))

		var executions int
		require.NoError(t, router.Register(From("transfers").
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				executions++
				return fmt.Errorf("validation failed on execution %d", executions)
			}).
			WithRedelivery(RedeliveryPolicy{
				MaxRedeliveries: 3,
				DeadLetterStage: "dlq",
			})))

		env := contracts.NewEnvelopeString("transfer")
		err := router.Dispatch(context.Background(), "transfers", env)

		var stepErr *contracts.StepExecutionError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "transfers", stepErr.Route)
		assert.Equal(t, 3, stepErr.Attempts)
		assert.Equal(t, 4, executions) // initial + 3 redeliveries

		dead := dlq.wait(t)
		assert.Equal(t, 3, dead.Attempt)
		assert.True(t, dead.HeaderBool(contracts.HeaderDeadLettered))
		assert.Equal(t, 3, dead.Headers[contracts.HeaderRedeliveryCount])
		assert.Equal(t, "transfers", dead.HeaderString(contracts.HeaderFailedRoute))
		assert.NotEmpty(t, dead.HeaderString(contracts.HeaderFirstFailureAt))

		// Terminal: exactly one forward.
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, 1, dlq.count())
	})

	t.Run("zero max redeliveries dead-letters immediately", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		dlq := newCaptureSink()
		require.NoError(t, router.RegisterSink("dlq", dlq))
		require.NoError(t, router.Register(FromStage("dlq", StageConfig{}).ToSink("dlq")))

		require.NoError(t, router.Register(From("transfers").
			Transform(failAlways("bad date")).
			WithRedelivery(RedeliveryPolicy{DeadLetterStage: "dlq"})))

		err := router.Dispatch(context.Background(), "transfers", contracts.NewEnvelopeString("t"))
		var stepErr *contracts.StepExecutionError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, 0, stepErr.Attempts)

		dead := dlq.wait(t)
		assert.Equal(t, 0, dead.Attempt)
		assert.True(t, dead.HeaderBool(contracts.HeaderDeadLettered))
	})

	t.Run("redelivery succeeds after transient failures", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		var executions int
		require.NoError(t, router.Register(From("flaky").
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				executions++
				if executions < 3 {
					return errors.New("transient")
				}
				return nil
			}).
			WithRedelivery(RedeliveryPolicy{MaxRedeliveries: 5})))

		env := contracts.NewEnvelopeString("x")
		assert.NoError(t, router.Dispatch(context.Background(), "flaky", env))
		assert.Equal(t, 3, executions)
		assert.Equal(t, 2, env.Attempt)
	})

	t.Run("redelivery keeps envelope state from the failure point", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		var executions int
		require.NoError(t, router.Register(From("stateful").
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				executions++
				env.SetHeader("touched", executions)
				if executions == 1 {
					return errors.New("first pass fails")
				}
				// The second pass must see the first pass's mutation.
				return nil
			}).
			WithRedelivery(RedeliveryPolicy{MaxRedeliveries: 1})))

		env := contracts.NewEnvelopeString("x")
		require.NoError(t, router.Dispatch(context.Background(), "stateful", env))
		assert.Equal(t, 2, env.Headers["touched"])
	})

	t.Run("redelivery delay is honored", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		require.NoError(t, router.Register(From("slow-retry").
			Transform(failAlways("always")).
			WithRedelivery(RedeliveryPolicy{
				MaxRedeliveries: 2,
				RedeliveryDelay: 30 * time.Millisecond,
			})))

		start := time.Now()
		err := router.Dispatch(context.Background(), "slow-retry", contracts.NewEnvelopeString("x"))
		assert.Error(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("stage failures stay stage-local", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		dlq := newCaptureSink()
		require.NoError(t, router.RegisterSink("dlq", dlq))
		require.NoError(t, router.Register(FromStage("dlq", StageConfig{}).ToSink("dlq")))

		require.NoError(t, router.Register(FromStage("validation", StageConfig{}).
			Transform(failAlways("stage-side failure")).
			WithRedelivery(RedeliveryPolicy{MaxRedeliveries: 1, DeadLetterStage: "dlq"})))

		// The producing route has no redelivery at all; the stage's
		// failure must not surface here.
		require.NoError(t, router.Register(From("in").ToStage("validation")))

		require.NoError(t, router.Dispatch(context.Background(), "in", contracts.NewEnvelopeString("x")))

		dead := dlq.wait(t)
		assert.Equal(t, 1, dead.Attempt)
	})
}

func TestClaimCheckSteps(t *testing.T) {
	t.Run("store then retrieve restores the body", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		var ticketBody string
		bigBody := ""
		for i := 0; i < 10000; i++ {
			bigBody += "X"
		}

		require.NoError(t, router.Register(From("documents").
			ClaimCheckStore().
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				ticketBody = env.BodyString()
				return nil
			}).
			ClaimCheckRetrieve()))

		env := contracts.NewEnvelopeString(bigBody)
		require.NoError(t, router.Dispatch(context.Background(), "documents", env))

		assert.True(t, len(ticketBody) < 100, "ticket should replace the large body")
		assert.Contains(t, ticketBody, "CLAIM-")
		assert.Equal(t, bigBody, env.BodyString())
		assert.True(t, env.HeaderBool(contracts.HeaderClaimRetrieved))
		assert.Equal(t, ticketBody, env.HeaderString(contracts.HeaderClaimTicket))
	})

	t.Run("retrieve from designated header", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		require.NoError(t, router.Register(From("documents").
			ClaimCheckStore().
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				env.SetBodyString("metadata only")
				return nil
			}).
			ClaimCheckRetrieveHeader(contracts.HeaderClaimTicket)))

		env := contracts.NewEnvelopeString("the contract text")
		require.NoError(t, router.Dispatch(context.Background(), "documents", env))

		assert.Equal(t, "the contract text", env.BodyString())
		assert.True(t, env.HeaderBool(contracts.HeaderClaimRetrieved))
	})

	t.Run("miss is reported, not raised", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		reached := false
		require.NoError(t, router.Register(From("documents").
			ClaimCheckRetrieve().
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				reached = true
				return nil
			})))

		env := contracts.NewEnvelopeString("CLAIM-never-issued")
		require.NoError(t, router.Dispatch(context.Background(), "documents", env))

		assert.True(t, reached, "route must continue after a miss")
		assert.False(t, env.HeaderBool(contracts.HeaderClaimRetrieved))
		assert.Contains(t, env.BodyString(), "ERROR")
	})

	t.Run("invalid ticket is reported, not raised", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		require.NoError(t, router.Register(From("documents").ClaimCheckRetrieve()))

		env := contracts.NewEnvelopeString("not a ticket at all")
		require.NoError(t, router.Dispatch(context.Background(), "documents", env))
		assert.False(t, env.HeaderBool(contracts.HeaderClaimRetrieved))
		assert.Contains(t, env.BodyString(), "ERROR")
	})
}

func TestSinkSteps(t *testing.T) {
	t.Run("unknown sink is a step failure", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		require.NoError(t, router.Register(From("out").ToSink("missing")))

		err := router.Dispatch(context.Background(), "out", contracts.NewEnvelopeString("x"))
		var stepErr *contracts.StepExecutionError
		require.ErrorAs(t, err, &stepErr)
		assert.ErrorIs(t, err, contracts.ErrUnknownSink)
	})

	t.Run("failing sink goes through the error handler", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		var writes int
		require.NoError(t, router.RegisterSink("flaky", SinkFunc(
			func(ctx context.Context, env *contracts.Envelope) error {
				writes++
				if writes == 1 {
					return errors.New("connection refused")
				}
				return nil
			})))

		require.NoError(t, router.Register(From("out").
			ToSink("flaky").
			WithRedelivery(RedeliveryPolicy{MaxRedeliveries: 2})))

		assert.NoError(t, router.Dispatch(context.Background(), "out", contracts.NewEnvelopeString("x")))
		assert.Equal(t, 2, writes)
	})

	t.Run("duplicate sink registration fails", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		require.NoError(t, router.RegisterSink("s", newCaptureSink()))
		assert.Error(t, router.RegisterSink("s", newCaptureSink()))
	})
}

func TestStagePipelines(t *testing.T) {
	t.Run("stages chain into further stages", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		final := newCaptureSink()
		require.NoError(t, router.RegisterSink("final", final))

		require.NoError(t, router.Register(FromStage("notify", StageConfig{}).ToSink("final")))
		require.NoError(t, router.Register(FromStage("achievements", StageConfig{Concurrency: 2}).
			Transform(setHeader("achievement", "KILLER_INSTINCT")).
			ToStage("notify")))
		require.NoError(t, router.Register(FromStage("kills", StageConfig{Concurrency: 2}).
			Transform(setHeader("xp", 100)).
			ToStage("achievements")))
		require.NoError(t, router.Register(From("game-events").ToStage("kills")))

		require.NoError(t, router.Dispatch(context.Background(), "game-events", contracts.NewEnvelopeString("kill")))

		env := final.wait(t)
		assert.Equal(t, 100, env.Headers["xp"])
		assert.Equal(t, "KILLER_INSTINCT", env.HeaderString("achievement"))
	})

	t.Run("stage stats reflect traffic", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		done := make(chan struct{}, 8)
		require.NoError(t, router.Register(FromStage("work", StageConfig{Capacity: 16}).
			Transform(func(ctx context.Context, env *contracts.Envelope) error {
				done <- struct{}{}
				return nil
			})))
		require.NoError(t, router.Register(From("in").ToStage("work")))

		for i := 0; i < 3; i++ {
			require.NoError(t, router.Dispatch(context.Background(), "in", contracts.NewEnvelopeString("x")))
		}
		for i := 0; i < 3; i++ {
			<-done
		}

		stats := router.StageStats()
		require.Len(t, stats, 1)
		assert.Equal(t, "work", stats[0].Name)
		assert.Equal(t, int64(3), stats[0].Enqueued)
	})

	t.Run("dispatch-created stage buffers until its route arrives", func(t *testing.T) {
		router := NewRouter()
		defer router.Shutdown(context.Background())

		require.NoError(t, router.Register(From("in").ToStage("late-stage")))
		require.NoError(t, router.Dispatch(context.Background(), "in", contracts.NewEnvelopeString("early")))

		stats := router.StageStats()
		require.Len(t, stats, 1)
		assert.Equal(t, 1, stats[0].Depth)

		got := newCaptureSink()
		require.NoError(t, router.RegisterSink("got", got))
		require.NoError(t, router.Register(FromStage("late-stage", StageConfig{}).ToSink("got")))

		env := got.wait(t)
		assert.Equal(t, "early", env.BodyString())
	})
}

func TestRouterDefaultPolicy(t *testing.T) {
	router := NewRouter(WithDefaultRedelivery(RedeliveryPolicy{MaxRedeliveries: 2}))
	defer router.Shutdown(context.Background())

	var executions int
	require.NoError(t, router.Register(From("in").
		Transform(func(ctx context.Context, env *contracts.Envelope) error {
			executions++
			return errors.New("nope")
		})))

	err := router.Dispatch(context.Background(), "in", contracts.NewEnvelopeString("x"))
	assert.Error(t, err)
	assert.Equal(t, 3, executions)
}
