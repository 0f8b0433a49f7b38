package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu         sync.Mutex
	frames     [][]byte
	finalized  int
	onFinalize func(*fakeConn)

	results   chan Result
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		results: make(chan Result, 16),
		done:    make(chan struct{}),
	}
}

func (c *fakeConn) SendAudio(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Finalize() error {
	c.mu.Lock()
	c.finalized++
	fn := c.onFinalize
	c.mu.Unlock()
	if fn != nil {
		fn(c)
	}
	return nil
}

func (c *fakeConn) emit(r Result) {
	select {
	case c.results <- r:
	case <-c.done:
	}
}

func (c *fakeConn) Results() <-chan Result { return c.results }
func (c *fakeConn) Done() <-chan struct{}  { return c.done }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		close(c.results)
	})
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	gate  chan struct{}
	err   error
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	err := d.err
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.FinalizeWaitWarm = 40 * time.Millisecond
	cfg.FinalizeWaitCold = 80 * time.Millisecond
	cfg.IdleTimeout = time.Minute
	return cfg
}

func TestConnectAndState(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.Equal(t, StateDisconnected, m.State())
	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, StateConnected, m.State())

	// Second connect is a no-op.
	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, 1, d.dialCount())
}

func TestConnectFailureIsRecoverable(t *testing.T) {
	d := &fakeDialer{err: errors.New("unreachable")}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.Error(t, m.Connect(context.Background()))
	require.Equal(t, StateDisconnected, m.State())

	d.mu.Lock()
	d.err = nil
	d.mu.Unlock()
	require.NoError(t, m.Connect(context.Background()))
}

func TestConnectTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectTimeout = 30 * time.Millisecond
	d := &fakeDialer{gate: make(chan struct{})}
	m := NewManager(d, cfg, nil)
	defer m.Close()

	start := time.Now()
	err := m.Connect(context.Background())
	require.Error(t, err)
	require.Less(t, time.Since(start), 300*time.Millisecond)
	require.Equal(t, StateDisconnected, m.State())
}

func TestFramesBufferedDuringConnectFlushInOrder(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	connectDone := make(chan error, 1)
	go func() { connectDone <- m.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return m.State() == StateConnecting },
		time.Second, time.Millisecond)

	m.SendAudio([]byte{1, 0})
	m.SendAudio([]byte{2, 0})
	m.SendAudio([]byte{3, 0})

	close(gate)
	require.NoError(t, <-connectDone)

	conn := d.conn(0)
	require.Eventually(t, func() bool { return conn.frameCount() == 3 },
		time.Second, time.Millisecond)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Equal(t, byte(1), conn.frames[0][0])
	require.Equal(t, byte(2), conn.frames[1][0])
	require.Equal(t, byte(3), conn.frames[2][0])
}

func TestBeginConnectBuffersFramesBeforeDialStarts(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.True(t, m.BeginConnect())
	require.Equal(t, StateConnecting, m.State())

	// Frames sent before any dial goroutine runs must still be buffered.
	m.SendAudio([]byte{1, 0})
	m.SendAudio([]byte{2, 0})

	connectDone := make(chan error, 1)
	go func() { connectDone <- m.Connect(context.Background()) }()
	close(gate)
	require.NoError(t, <-connectDone)

	conn := d.conn(0)
	require.Eventually(t, func() bool { return conn.frameCount() == 2 },
		time.Second, time.Millisecond)
	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Equal(t, byte(1), conn.frames[0][0])
	require.Equal(t, byte(2), conn.frames[1][0])
}

func TestBeginConnectAdoptsPrewarmed(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	m.Prewarm(context.Background())
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.prewarmed != nil
	}, time.Second, time.Millisecond)

	require.False(t, m.BeginConnect())
	require.Equal(t, StateConnected, m.State())
	require.Equal(t, 1, d.dialCount())
}

func TestEndUtteranceDuringDialSupersedesConnect(t *testing.T) {
	gate := make(chan struct{})
	d := &fakeDialer{gate: gate}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.True(t, m.BeginConnect())
	connectDone := make(chan error, 1)
	go func() { connectDone <- m.Connect(context.Background()) }()

	m.SendAudio([]byte{1, 0})
	text, err := m.EndUtterance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "", text)
	require.Equal(t, StateDisconnected, m.State())

	close(gate)
	require.ErrorIs(t, <-connectDone, ErrSuperseded)

	// The late-resolving connection is closed, not adopted or leaked.
	conn := d.conn(0)
	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("superseded connection never closed")
	}
	require.Equal(t, StateDisconnected, m.State())
}

func TestConnectAfterCloseIsSuperseded(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	require.NoError(t, m.Close())
	require.ErrorIs(t, m.Connect(context.Background()), ErrSuperseded)
}

func TestSendAudioWhenDisconnectedIsNoop(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()
	m.SendAudio([]byte{1, 0})
	require.Equal(t, 0, d.dialCount())
}

func TestEndUtteranceReturnsBestTranscriptAndDisconnects(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	conn := d.conn(0)
	conn.onFinalize = func(c *fakeConn) {
		c.emit(Result{Text: "truck nine status", Final: true, LastFinal: true})
	}

	m.SendAudio(constantFrame(1000, 160))
	start := time.Now()
	text, err := m.EndUtterance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "truck nine status", text)
	// Early exit on the terminal message, well under the cold wait.
	require.Less(t, time.Since(start), 70*time.Millisecond)
	require.Equal(t, StateDisconnected, m.State())

	// A replacement connection is pre-warmed in the background.
	require.Eventually(t, func() bool { return d.dialCount() == 2 },
		time.Second, time.Millisecond)
}

func TestEndUtteranceFallsBackToInterim(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	conn := d.conn(0)
	conn.emit(Result{Text: "partial hypo", Final: false})

	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.utt.interim == "partial hypo"
	}, time.Second, time.Millisecond)

	text, err := m.EndUtterance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "partial hypo", text)
}

func TestEndUtteranceEmptyRecognition(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	m.SendAudio(constantFrame(10, 160))

	text, err := m.EndUtterance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "", text)
}

func TestDuplicateLastFinalSuppressed(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	conn := d.conn(0)
	conn.emit(Result{Text: "done", Final: true, LastFinal: true})
	conn.emit(Result{Text: "done again", Final: true, LastFinal: true})

	text, err := m.EndUtterance(context.Background())
	require.NoError(t, err)
	require.Equal(t, "done", text)
}

func TestCancelUtteranceReusesHealthyConnection(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	require.True(t, m.CancelUtterance())
	require.Equal(t, StateConnected, m.State())
	require.Equal(t, 1, d.dialCount())
}

func TestCancelUtteranceDisconnectsAfterResponse(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	conn := d.conn(0)
	conn.emit(Result{Text: "hm", Final: false})
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.utt.gotAny
	}, time.Second, time.Millisecond)

	require.False(t, m.CancelUtterance())
	require.Equal(t, StateDisconnected, m.State())
}

func TestCancelUtteranceReuseCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCancelReuse = 3
	d := &fakeDialer{}
	m := NewManager(d, cfg, nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	for i := 0; i < 3; i++ {
		require.True(t, m.CancelUtterance(), "reuse %d", i)
	}
	// The safety valve forces a full reconnect past the cap.
	require.False(t, m.CancelUtterance())
	require.Equal(t, StateDisconnected, m.State())
}

func TestIdleTeardown(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	d := &fakeDialer{}
	m := NewManager(d, cfg, nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	m.SendAudio(constantFrame(100, 160))

	require.Eventually(t, func() bool { return m.State() == StateDisconnected },
		time.Second, 5*time.Millisecond)
}

func TestPrewarmAdoptedByConnect(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	m.Prewarm(context.Background())
	require.Eventually(t, func() bool { return d.dialCount() == 1 },
		time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.prewarmed != nil
	}, time.Second, time.Millisecond)

	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, StateConnected, m.State())
	require.Equal(t, 1, d.dialCount())
}

func TestGainAppliedToQuietFrames(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, testConfig(), nil)
	defer m.Close()

	require.NoError(t, m.Connect(context.Background()))
	quiet := constantFrame(655, 160)
	for i := 0; i < 100; i++ {
		m.SendAudio(quiet)
	}
	require.Greater(t, m.GainValue(), 1.2)

	conn := d.conn(0)
	conn.mu.Lock()
	last := conn.frames[len(conn.frames)-1]
	conn.mu.Unlock()
	require.NotEqual(t, quiet, last)
}
