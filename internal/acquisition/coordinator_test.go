package acquisition

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"transformer_monitor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAbnormal = errors.New("websocket: close 1006 (abnormal closure): unexpected EOF")

func TestCoordinator_InitialState(t *testing.T) {
	h := newHarness(t, Options{})

	cur := h.c.Current()
	assert.Equal(t, models.ModeConnecting, cur.Mode)
	assert.False(t, cur.Connection.Connected)
	assert.Nil(t, cur.Connection.LastUpdate)
	assert.Empty(t, cur.Connection.Error)
	assert.Empty(t, cur.Signals)

	require.Equal(t, 1, h.dialer.count(), "push dialed on start")
	oneShot, recurring := h.sched.active()
	assert.Zero(t, oneShot)
	assert.Zero(t, recurring)
	assert.Zero(t, h.fetcher.callCount())
}

func TestCoordinator_OpenGoesLive(t *testing.T) {
	h := newHarness(t, Options{})

	h.dialer.last().opened()
	u := h.rec.waitFor(t, ReasonPushOpen)

	assert.Equal(t, models.ModeLive, u.Mode)
	assert.True(t, u.Connection.Connected)
	assert.Empty(t, u.Connection.Error)
	assert.Nil(t, u.Connection.LastUpdate, "open alone is not a data receipt")
}

func TestCoordinator_FirstMessageGoesLive(t *testing.T) {
	h := newHarness(t, Options{})

	h.dialer.last().message(models.Signals{models.SignalTransformerTrip: false})
	u := h.rec.waitFor(t, ReasonPushMessage)

	assert.Equal(t, models.ModeLive, u.Mode)
	assert.True(t, u.Connection.Connected)
	require.NotNil(t, u.Connection.LastUpdate)
	assert.True(t, u.Connection.LastUpdate.Equal(epoch))
}

// Push opens, sends one value, closes a second later; the first poll fills in the rest.
func TestCoordinator_PushThenPollScenario(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.push(fetchResult{data: models.Signals{models.SignalTempAlarm1: true}})

	push := h.dialer.last()
	push.opened()
	push.message(models.Signals{models.SignalL1WindingTemp: 82.3})

	u := h.rec.waitFor(t, ReasonPushMessage)
	assert.Equal(t, models.Signals{models.SignalL1WindingTemp: 82.3}, u.Signals)
	assert.True(t, u.Connection.Connected)

	h.advance(time.Second)
	push.closed(errAbnormal)

	u = h.rec.waitFor(t, ReasonPushClosed)
	assert.False(t, u.Connection.Connected)
	assert.Equal(t, models.ModeDegraded, u.Mode)
	assert.Contains(t, u.Connection.Error, "WebSocket closed")
	assert.Equal(t, 82.3, u.Signals[models.SignalL1WindingTemp], "values survive the outage")

	u = h.rec.waitFor(t, ReasonPollData)
	assert.Equal(t, 1, h.fetcher.callCount(), "first poll fires immediately")
	assert.Equal(t, models.Signals{
		models.SignalL1WindingTemp: 82.3,
		models.SignalTempAlarm1:    true,
	}, u.Signals)
	assert.True(t, u.Connection.Connected)
	assert.Empty(t, u.Connection.Error)
	assert.Equal(t, models.ModeDegraded, u.Mode)
	require.NotNil(t, u.Connection.LastUpdate)
	assert.True(t, u.Connection.LastUpdate.Equal(epoch.Add(time.Second)))
}

func TestCoordinator_CloseStartsPollAndReconnectOnce(t *testing.T) {
	h := newHarness(t, Options{})

	push := h.dialer.last()
	push.opened()
	push.failed(errAbnormal)
	push.closed(errAbnormal)
	h.sync()

	oneShot, recurring := h.sched.active()
	assert.Equal(t, 1, oneShot, "exactly one pending reconnect")
	assert.Equal(t, 1, recurring, "exactly one poll timer")

	h.inspect(func(c *Coordinator) {
		assert.Equal(t, models.ModeDegraded, c.mode)
		assert.True(t, c.poll.active())
		assert.Nil(t, c.push)
	})

	u := h.c.Current()
	assert.False(t, u.Connection.Connected)
}

func TestCoordinator_ErrorAloneDegrades(t *testing.T) {
	h := newHarness(t, Options{})

	push := h.dialer.last()
	push.opened()
	push.failed(errAbnormal)

	u := h.rec.waitFor(t, ReasonPushError)
	assert.False(t, u.Connection.Connected)
	assert.Equal(t, "WebSocket error: "+errAbnormal.Error(), u.Connection.Error)
	assert.Equal(t, models.ModeDegraded, u.Mode)

	oneShot, recurring := h.sched.active()
	assert.Equal(t, 1, oneShot)
	assert.Equal(t, 1, recurring)
}

func TestCoordinator_RecoveryStopsPolling(t *testing.T) {
	h := newHarness(t, Options{})

	h.dialer.last().closed(errAbnormal)
	h.sync()

	h.advance(DefaultReconnectDelay)
	require.Equal(t, 2, h.dialer.count())

	h.dialer.last().opened()
	u := h.rec.waitFor(t, ReasonPushOpen)
	assert.Equal(t, models.ModeLive, u.Mode)
	assert.True(t, u.Connection.Connected)

	oneShot, recurring := h.sched.active()
	assert.Zero(t, oneShot, "no reconnect pending once live")
	assert.Zero(t, recurring, "poll stopped in the same tick as open")
	h.inspect(func(c *Coordinator) {
		assert.False(t, c.poll.active())
	})
}

func TestCoordinator_FixedReconnectCadence(t *testing.T) {
	h := newHarness(t, Options{ReconnectDelay: 5000 * time.Millisecond})

	h.dialer.last().closed(errors.New("dial tcp: connection refused"))
	h.sync()

	h.advance(4999 * time.Millisecond)
	require.Equal(t, 1, h.dialer.count(), "no attempt before the delay")

	h.advance(time.Millisecond)
	require.Equal(t, 2, h.dialer.count())
	assert.Equal(t, 5000*time.Millisecond, h.dialer.handle(1).at)

	h.dialer.last().closed(errors.New("dial tcp: connection refused"))
	h.sync()

	h.advance(5000 * time.Millisecond)
	require.Equal(t, 3, h.dialer.count())
	assert.Equal(t, 10000*time.Millisecond, h.dialer.handle(2).at, "constant cadence, no backoff")

	h.dialer.last().closed(errors.New("dial tcp: connection refused"))
	h.sync()
	h.advance(5000 * time.Millisecond)
	require.Equal(t, 4, h.dialer.count())
	assert.Equal(t, 15000*time.Millisecond, h.dialer.handle(3).at)

	_, recurring := h.sched.active()
	assert.Equal(t, 1, recurring, "polling kept a single timer across attempts")
}

func TestCoordinator_StaleHandleEventsAreIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.push(fetchResult{block: make(chan struct{})})

	old := h.dialer.last()
	old.opened()
	old.failed(errAbnormal)
	h.sync()

	// Reconnect fires before the old handle reported close.
	h.advance(DefaultReconnectDelay)
	require.Equal(t, 2, h.dialer.count())
	assert.Equal(t, 1, old.disconnects, "lingering handle released before redial")

	var before uint64
	h.inspect(func(c *Coordinator) { before = c.version })

	old.message(models.Signals{models.SignalTransformerTrip: true})
	old.opened()
	old.closed(errAbnormal)
	h.sync()

	h.inspect(func(c *Coordinator) {
		assert.Equal(t, before, c.version, "stale events publish nothing")
		assert.NotContains(t, c.signals, models.SignalTransformerTrip)
		assert.NotNil(t, c.push, "current handle untouched")
		assert.Equal(t, uint64(2), c.attempt)
	})
}

func TestCoordinator_PollFailureKeepsSignalsAndRetries(t *testing.T) {
	h := newHarness(t, Options{PollInterval: 2 * time.Second})
	h.fetcher.push(
		fetchResult{err: fmt.Errorf("%w: HTTP 503", ErrUnexpectedStatus)},
		fetchResult{data: models.Signals{models.SignalCoolingBankWorking: true}},
	)

	push := h.dialer.last()
	push.message(models.Signals{models.SignalL3WindingTemp: 71.0})
	h.rec.waitFor(t, ReasonPushMessage)
	push.closed(errAbnormal)

	u := h.rec.waitFor(t, ReasonPollFailed)
	assert.False(t, u.Connection.Connected)
	assert.Equal(t, "Connection failed: unexpected poll response status: HTTP 503", u.Connection.Error)
	assert.Equal(t, 71.0, u.Signals[models.SignalL3WindingTemp])

	_, recurring := h.sched.active()
	assert.Equal(t, 1, recurring, "a failed pull keeps the schedule")

	h.advance(2 * time.Second)
	u = h.rec.waitFor(t, ReasonPollData)
	assert.True(t, u.Connection.Connected)
	assert.Empty(t, u.Connection.Error)
	assert.Equal(t, 71.0, u.Signals[models.SignalL3WindingTemp])
	assert.Equal(t, true, u.Signals[models.SignalCoolingBankWorking])
}

func TestCoordinator_MalformedPollBodyLeavesStateAlone(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.push(fetchResult{err: fmt.Errorf("%w: not an object", ErrMalformedMessage)})

	h.dialer.last().closed(nil)
	before := h.rec.waitFor(t, ReasonPushClosed)

	require.Eventually(t, func() bool { return h.fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)
	// Settle the result, then make sure nothing was published for it.
	require.Eventually(t, func() bool {
		settled := false
		h.c.call(func() { settled = !h.c.poll.inFlight })
		return settled
	}, time.Second, 5*time.Millisecond)

	after := h.c.Current()
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Connection, after.Connection)
}

func TestCoordinator_NoOverlappingPulls(t *testing.T) {
	h := newHarness(t, Options{PollInterval: time.Second})
	release := make(chan struct{})
	h.fetcher.push(fetchResult{block: release, data: models.Signals{models.SignalTempAlarm2: false}})

	h.dialer.last().closed(errAbnormal)
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	h.advance(3 * time.Second)
	assert.Equal(t, 1, h.fetcher.callCount(), "ticks skipped while a pull is in flight")

	close(release)
	h.rec.waitFor(t, ReasonPollData)

	h.advance(time.Second)
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 2 }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_LatePollResultAfterRecoveryIsDiscarded(t *testing.T) {
	h := newHarness(t, Options{})
	release := make(chan struct{})
	h.fetcher.push(fetchResult{block: release, data: models.Signals{models.SignalTransformerAlarm: true}})

	h.dialer.last().closed(errAbnormal)
	require.Eventually(t, func() bool { return h.fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)

	h.advance(DefaultReconnectDelay)
	h.dialer.last().opened()
	h.rec.waitFor(t, ReasonPushOpen)

	close(release)
	// The late result must not be merged; a following push message proves ordering.
	h.dialer.last().message(models.Signals{models.SignalL1WindingTemp: 60.0})
	u := h.rec.waitFor(t, ReasonPushMessage)
	assert.NotContains(t, u.Signals, models.SignalTransformerAlarm)
}

func TestCoordinator_TeardownInDegradedReleasesEverything(t *testing.T) {
	h := newHarness(t, Options{DemoEnabled: true})

	h.dialer.last().opened()
	h.dialer.last().closed(errAbnormal)
	h.sync()

	h.advance(DefaultReconnectDelay)
	require.Equal(t, 2, h.dialer.count())
	dialing := h.dialer.last()
	dialing.disconnectErr = errAlreadyClosed
	require.Equal(t, 1, h.dialer.liveConnections())

	oneShot, recurring := h.sched.active()
	require.Zero(t, oneShot, "attempt in flight, nothing scheduled")
	require.Equal(t, 2, recurring, "poll and demo")

	h.stop()

	oneShot, recurring = h.sched.active()
	assert.Zero(t, oneShot)
	assert.Zero(t, recurring)
	assert.Zero(t, h.dialer.liveConnections())
	assert.Equal(t, 1, dialing.disconnects)

	u := h.c.Current()
	assert.Equal(t, models.ModeShuttingDown, u.Mode)
	assert.Equal(t, ReasonShutdown, u.Reason)
	assert.False(t, u.Connection.Connected)

	// Late events after teardown are dropped without blocking.
	done := make(chan struct{})
	go func() {
		dialing.opened()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("emit blocked after teardown")
	}
}

func TestCoordinator_TeardownWhileLive(t *testing.T) {
	h := newHarness(t, Options{})
	h.dialer.last().opened()
	h.sync()
	require.Equal(t, 1, h.dialer.liveConnections())

	h.stop()

	assert.Zero(t, h.dialer.liveConnections())
	oneShot, recurring := h.sched.active()
	assert.Zero(t, oneShot)
	assert.Zero(t, recurring)
}

func TestCoordinator_SubscribersSeeEveryUpdateInOrder(t *testing.T) {
	h := newHarness(t, Options{})

	var a, b []uint64
	cancelA := h.c.Subscribe(func(u Update) { a = append(a, u.Version) })
	h.c.Subscribe(func(u Update) { b = append(b, u.Version) })

	push := h.dialer.last()
	push.opened()
	for i := 0; i < 5; i++ {
		push.message(models.Signals{models.SignalL1WindingTemp: float64(80 + i)})
	}
	h.sync()

	h.inspect(func(c *Coordinator) {
		assert.Len(t, a, 6)
		assert.Equal(t, a, b)
		for i := 1; i < len(a); i++ {
			assert.Equal(t, a[i-1]+1, a[i], "versions are consecutive")
		}
	})

	cancelA()
	cancelA()
	push.message(models.Signals{models.SignalL1WindingTemp: 90.0})
	h.sync()
	h.inspect(func(c *Coordinator) {
		assert.Len(t, a, 6, "unsubscribed observer receives nothing")
		assert.Len(t, b, 7)
	})
}

func TestCoordinator_SubscriberCopiesAreIndependent(t *testing.T) {
	h := newHarness(t, Options{})
	h.c.Subscribe(func(u Update) { u.Signals["tampered"] = true })

	h.dialer.last().message(models.Signals{models.SignalTempAlarm1: false})
	u := h.rec.waitFor(t, ReasonPushMessage)
	assert.NotContains(t, u.Signals, "tampered")
	assert.NotContains(t, h.c.Current().Signals, "tampered")
}

func TestCoordinator_DemoIsOffByDefault(t *testing.T) {
	h := newHarness(t, Options{})
	h.dialer.last().opened()
	h.sync()

	h.advance(10 * time.Second)
	_, recurring := h.sched.active()
	assert.Zero(t, recurring)
	assert.Empty(t, h.c.Current().Signals)
}

func TestCoordinator_DemoFeedsMergePath(t *testing.T) {
	h := newHarness(t, Options{DemoEnabled: true, DemoInterval: time.Second})
	h.dialer.last().opened()
	h.sync()

	h.advance(time.Second)
	u := h.rec.waitFor(t, ReasonDemo)
	for _, key := range []string{
		models.SignalL1WindingTemp, models.SignalL3WindingTemp,
		models.SignalTempAlarm1, models.SignalTempAlarm2,
		models.SignalTransformerTrip, models.SignalTransformerAlarm,
		models.SignalCoolingBankWorking, models.SignalCoolingBankFailure,
	} {
		assert.Contains(t, u.Signals, key)
	}
	assert.True(t, u.Connection.Connected)
}

func TestCoordinator_RunTwice(t *testing.T) {
	h := newHarness(t, Options{})
	err := h.c.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestCoordinator_OversizedPollBodyFailsTheCycle(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.push(fetchResult{err: fmt.Errorf("%w: over %d bytes", ErrBodyTooLarge, maxMessageSize)})

	h.dialer.last().closed(nil)
	u := h.rec.waitFor(t, ReasonPollFailed)
	assert.False(t, u.Connection.Connected)
	assert.Equal(t, "Connection failed: poll response body too large: over 65536 bytes", u.Connection.Error)
	assert.Equal(t, models.ModeDegraded, u.Mode)
}
