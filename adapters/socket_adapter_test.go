package adapters_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-mq/adapters"
	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/fake"
)

const testFD = 42

type fixture struct {
	loop *fake.Loop
	sock *fake.Socket
	a    *adapters.SocketAdapter
}

func newFixture(t *testing.T, opts ...adapters.Option) *fixture {
	t.Helper()
	l := fake.NewLoop()
	s := fake.NewSocket(testFD)
	a, err := adapters.NewSocketAdapter(s, l, opts...)
	require.NoError(t, err)
	return &fixture{loop: l, sock: s, a: a}
}

func (f *fixture) settle(t *testing.T) {
	t.Helper()
	_, err := f.loop.RunUntilIdle(1000)
	require.NoError(t, err)
	require.Zero(t, f.loop.Pending(), "adapter kept rescheduling itself")
}

func result[T any](t *testing.T, fut *api.Future[T]) (T, error) {
	t.Helper()
	require.True(t, fut.Completed(), "future still pending")
	return fut.Result()
}

func TestNewSocketAdapterValidates(t *testing.T) {
	_, err := adapters.NewSocketAdapter(nil, fake.NewLoop())
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = adapters.NewSocketAdapter(fake.NewSocket(1), nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = adapters.NewSocketAdapter(fake.NewSocket(1), fake.NewLoop(), adapters.WithMaxPendingSends(-1))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestAttachIsLazy(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.loop.HasReader(testFD))
	assert.False(t, f.a.Stats().Attached)

	f.a.Send([]byte("x"), 0)
	f.settle(t)
	assert.True(t, f.loop.HasReader(testFD))
	assert.True(t, f.a.Stats().Attached)

	// second operation does not register again
	f.a.Send([]byte("y"), 0)
	f.settle(t)
	assert.Len(t, f.sock.Sent(), 2)
}

func TestSendsAreAcceptedInOrder(t *testing.T) {
	f := newFixture(t)
	futs := []*api.Future[struct{}]{
		f.a.Send([]byte("a"), 0),
		f.a.Send([]byte("b"), 0),
		f.a.Send([]byte("c"), 0),
	}
	f.settle(t)

	for _, fut := range futs {
		_, err := result(t, fut)
		require.NoError(t, err)
	}
	assert.Equal(t, [][][]byte{{[]byte("a")}, {[]byte("b")}, {[]byte("c")}}, f.sock.Sent())
	for _, fl := range f.sock.SentFlags() {
		assert.True(t, fl&api.DontWait != 0)
	}
	assert.Equal(t, uint64(3), f.a.Stats().Sent)
	assert.Zero(t, f.a.Stats().PendingSends)
}

func TestSendsBeforePeerStayPendingThenDrainInOrder(t *testing.T) {
	f := newFixture(t)
	f.sock.BlockSends(true)

	futs := []*api.Future[struct{}]{
		f.a.SendMultipart([][]byte{[]byte("a")}, 0),
		f.a.SendMultipart([][]byte{[]byte("b")}, 0),
	}
	f.settle(t)
	for _, fut := range futs {
		assert.False(t, fut.Completed())
	}
	assert.Equal(t, 2, f.a.Stats().PendingSends)

	f.sock.BlockSends(false)
	require.NoError(t, f.loop.Fire(testFD))
	f.settle(t)

	for _, fut := range futs {
		_, err := result(t, fut)
		require.NoError(t, err)
	}
	assert.Equal(t, [][][]byte{{[]byte("a")}, {[]byte("b")}}, f.sock.Sent())
}

func TestWouldBlockKeepsSendAtFront(t *testing.T) {
	f := newFixture(t)
	f.sock.FailSend(api.ErrInterrupted)
	fut := f.a.Send([]byte("once"), 0)
	f.settle(t)
	assert.False(t, fut.Completed())

	require.NoError(t, f.loop.Fire(testFD))
	f.settle(t)
	_, err := result(t, fut)
	require.NoError(t, err)
	assert.Len(t, f.sock.Sent(), 1)
}

func TestSendErrorRejectsOnlyThatMessage(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("host unreachable")
	f.sock.FailSend(boom)

	first := f.a.Send([]byte("1"), 0)
	second := f.a.Send([]byte("2"), 0)
	f.settle(t)

	_, err := result(t, first)
	assert.ErrorIs(t, err, boom)
	_, err = result(t, second)
	assert.NoError(t, err)
	assert.Equal(t, [][][]byte{{[]byte("2")}}, f.sock.Sent())
}

func TestEmptyMessageRejected(t *testing.T) {
	f := newFixture(t)
	_, err := result(t, f.a.SendMultipart(nil, 0))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	assert.Zero(t, f.loop.Pending())
}

func TestReceivesResolveInCallOrder(t *testing.T) {
	f := newFixture(t)
	futs := []*api.Future[[][]byte]{f.a.RecvMultipart(), f.a.RecvMultipart(), f.a.RecvMultipart()}
	f.settle(t)
	for _, fut := range futs {
		assert.False(t, fut.Completed())
	}
	assert.Equal(t, 3, f.a.Stats().PendingRecvs)

	f.sock.Deliver([]byte("one"))
	f.sock.Deliver([]byte("two"))
	f.sock.Deliver([]byte("three"))
	require.NoError(t, f.loop.Fire(testFD))
	f.settle(t)

	for i, want := range []string{"one", "two", "three"} {
		got, err := result(t, futs[i])
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte(want)}, got)
	}
	assert.Equal(t, uint64(3), f.a.Stats().Received)
}

func TestBufferedMessagesDrainWithoutFurtherEdges(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.sock.Deliver([]byte{byte(i)})
	}
	futs := make([]*api.Future[[][]byte], 5)
	for i := range futs {
		futs[i] = f.a.RecvMultipart()
	}
	// no Fire: the enqueue wakeups and self-scheduling alone must drain
	f.settle(t)
	for i, fut := range futs {
		got, err := result(t, fut)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{byte(i)}}, got)
	}
}

func TestWakeupReceivesBeforeSendingInOnePass(t *testing.T) {
	f := newFixture(t)
	f.sock.BlockSends(true)
	recv := f.a.RecvMultipart()
	first := f.a.Send([]byte("a"), 0)
	second := f.a.Send([]byte("b"), 0)
	f.settle(t)
	require.False(t, recv.Completed())
	require.False(t, first.Completed())

	f.sock.Deliver([]byte("in"))
	f.sock.BlockSends(false)
	ops, calls := len(f.sock.Ops()), f.loop.Calls()
	require.NoError(t, f.loop.Fire(testFD))

	assert.Equal(t, []string{"events", "recv", "send"}, f.sock.Ops()[ops:])
	// one reschedule from the receive branch, one after the accepted send
	assert.Equal(t, 2, f.loop.Calls()-calls)

	got, err := result(t, recv)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("in")}, got)
	_, err = result(t, first)
	require.NoError(t, err)
	assert.False(t, second.Completed())

	f.settle(t)
	_, err = result(t, second)
	require.NoError(t, err)
	assert.Equal(t, [][][]byte{{[]byte("a")}, {[]byte("b")}}, f.sock.Sent())
}

func TestWakeupSendOnlyScheduling(t *testing.T) {
	for _, tc := range []struct {
		name  string
		sends int
		calls int
	}{
		{"single send", 1, 1},
		{"backlog", 2, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.sock.BlockSends(true)
			for i := 0; i < tc.sends; i++ {
				f.a.Send([]byte{byte(i)}, 0)
			}
			f.settle(t)

			f.sock.BlockSends(false)
			ops, calls := len(f.sock.Ops()), f.loop.Calls()
			require.NoError(t, f.loop.Fire(testFD))
			assert.Equal(t, []string{"events", "send"}, f.sock.Ops()[ops:])
			assert.Equal(t, tc.calls, f.loop.Calls()-calls)
			f.settle(t)
			assert.Len(t, f.sock.Sent(), tc.sends)
		})
	}
}

func TestMultipartFramesPreserved(t *testing.T) {
	f := newFixture(t)
	f.sock.Deliver([]byte("hdr"), []byte{}, []byte("body"))
	fut := f.a.RecvMultipart()
	f.settle(t)
	got, err := result(t, fut)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hdr"), {}, []byte("body")}, got)
}

func TestReceiveErrorRejectsFrontOnly(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("bad message")
	f.sock.Deliver([]byte("x"))
	f.sock.FailRecv(boom)

	first, second := f.a.RecvMultipart(), f.a.RecvMultipart()
	f.settle(t)

	_, err := result(t, first)
	assert.ErrorIs(t, err, boom)
	got, err := result(t, second)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("x")}, got)
}

func TestReceiveInterruptedIsRetried(t *testing.T) {
	f := newFixture(t)
	f.sock.Deliver([]byte("x"))
	f.sock.FailRecv(api.ErrInterrupted)
	fut := f.a.RecvMultipart()
	f.settle(t)

	got, err := result(t, fut)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("x")}, got)
}

func TestCallbackInvokedOncePerMessage(t *testing.T) {
	f := newFixture(t)
	var got []string
	require.NoError(t, f.a.OnRecv(func(msg [][]byte) error {
		got = append(got, string(msg[0]))
		return nil
	}))
	f.settle(t)
	assert.Empty(t, got)

	for _, s := range []string{"a", "b", "c", "d"} {
		f.sock.Deliver([]byte(s))
	}
	require.NoError(t, f.loop.Fire(testFD))
	f.settle(t)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)

	f.sock.Deliver([]byte("e"))
	require.NoError(t, f.loop.Fire(testFD))
	f.settle(t)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
	assert.Equal(t, adapters.ModeCallback, f.a.Mode())
}

func TestCallbackErrorPropagatesToLoop(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("handler exploded")
	require.NoError(t, f.a.OnRecv(func([][]byte) error { return boom }))
	f.sock.Deliver([]byte("x"))
	_, err := f.loop.RunUntilIdle(100)
	assert.ErrorIs(t, err, boom)
}

func TestReceiveModesCannotBeMixed(t *testing.T) {
	f := newFixture(t)
	f.a.RecvMultipart()
	assert.ErrorIs(t, f.a.OnRecv(func([][]byte) error { return nil }), api.ErrReceiveModeConflict)

	g := newFixture(t)
	require.NoError(t, g.a.OnRecv(func([][]byte) error { return nil }))
	_, err := result(t, g.a.RecvMultipart())
	assert.ErrorIs(t, err, api.ErrReceiveModeConflict)
	assert.ErrorIs(t, g.a.OnRecv(nil), api.ErrInvalidArgument)
}

func TestQueueLimits(t *testing.T) {
	f := newFixture(t, adapters.WithMaxPendingSends(1), adapters.WithMaxPendingRecvs(1))
	f.sock.BlockSends(true)

	s1, s2 := f.a.Send([]byte("1"), 0), f.a.Send([]byte("2"), 0)
	r1, r2 := f.a.RecvMultipart(), f.a.RecvMultipart()
	f.settle(t)

	assert.False(t, s1.Completed())
	_, err := result(t, s2)
	assert.ErrorIs(t, err, api.ErrQueueFull)
	assert.False(t, r1.Completed())
	_, err = result(t, r2)
	assert.ErrorIs(t, err, api.ErrQueueFull)
}

func TestCloseRejectsPendingAndDetaches(t *testing.T) {
	f := newFixture(t)
	f.sock.BlockSends(true)
	send := f.a.Send([]byte("late"), 0)
	recv := f.a.RecvMultipart()
	f.settle(t)
	require.True(t, f.loop.HasReader(testFD))

	closing := f.a.Close(250 * time.Millisecond)
	assert.Same(t, closing, f.a.Close(0))
	f.settle(t)

	_, err := result(t, closing)
	require.NoError(t, err)
	_, err = result(t, send)
	assert.ErrorIs(t, err, api.ErrSocketClosed)
	_, err = result(t, recv)
	assert.ErrorIs(t, err, api.ErrSocketClosed)

	assert.False(t, f.loop.HasReader(testFD))
	closed, linger := f.sock.Closed()
	assert.True(t, closed)
	assert.Equal(t, 250*time.Millisecond, linger)

	after := f.a.Send([]byte("x"), 0)
	f.settle(t)
	_, err = result(t, after)
	assert.ErrorIs(t, err, api.ErrSocketClosed)

	st := f.a.Stats()
	assert.True(t, st.Closed)
	assert.False(t, st.Attached)
	assert.Zero(t, st.PendingSends)
	assert.Zero(t, st.PendingRecvs)
}

func TestCloseReportsSocketError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("close failed")
	f.sock.SetCloseError(boom)
	closing := f.a.Close(api.DefaultLinger)
	f.settle(t)
	_, err := result(t, closing)
	assert.ErrorIs(t, err, boom)
}

func TestCloseAfterLoopTerminatedRunsInline(t *testing.T) {
	f := newFixture(t)
	f.loop.Close()
	closing := f.a.Close(0)
	_, err := result(t, closing)
	require.NoError(t, err)
	closed, _ := f.sock.Closed()
	assert.True(t, closed)

	_, err = result(t, f.a.Send([]byte("x"), 0))
	assert.ErrorIs(t, err, api.ErrLoopClosed)
}

func TestAttachFailureRejectsOperation(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("no descriptor")
	f.sock.SetFDError(boom)
	fut := f.a.Send([]byte("x"), 0)
	f.settle(t)
	_, err := result(t, fut)
	assert.ErrorIs(t, err, boom)
	assert.False(t, f.a.Stats().Attached)
}

func TestEventsFailureRejectsQueuedFutures(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("socket gone")
	f.sock.SetEventsError(boom)
	recv := f.a.RecvMultipart()
	f.settle(t)
	_, err := result(t, recv)
	assert.ErrorIs(t, err, boom)
}

func TestMetricsAreRecorded(t *testing.T) {
	m := control.NewMetrics(prometheus.NewRegistry())
	f := newFixture(t, adapters.WithMetrics(m))
	f.a.Send([]byte("x"), 0)
	f.settle(t)

	assert.Positive(t, testutil.ToFloat64(m.Wakeups))
	assert.Positive(t, testutil.ToFloat64(m.Reschedules))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sends.WithLabelValues("ok")))
	assert.Zero(t, testutil.ToFloat64(m.PendingSends))
	assert.Positive(t, f.a.Stats().Wakeups)
	assert.NotEmpty(t, f.a.ID())
}
