package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ewbridge/internal/testutil/testlog"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func batch(station string) tracebuf.DecodedSamples {
	return tracebuf.DecodedSamples{
		StationID:  "XX." + station,
		Network:    "XX",
		Station:    station,
		Location:   "--",
		Channel:    "BHZ",
		StartTime:  1700000000.25,
		SampleRate: 100,
		Samples:    []int32{100, 200},
	}
}

type closerSink struct {
	Func
	err error
}

func (c closerSink) Close() error { return c.err }

func TestMultiPushesInOrderAndJoinsCloseErrors(t *testing.T) {
	testlog.Start(t)
	var got []string
	record := func(tag string) Func {
		return func(d tracebuf.DecodedSamples) { got = append(got, tag+":"+d.Station) }
	}
	boom := errors.New("boom")
	m := Multi{record("a"), closerSink{Func: record("b"), err: boom}, record("c")}

	m.Push(batch("AA"))
	m.Push(batch("BB"))
	require.Equal(t, []string{"a:AA", "b:AA", "c:AA", "a:BB", "b:BB", "c:BB"}, got)
	require.ErrorIs(t, m.Close(), boom)
	require.NoError(t, Close(record("x")))
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.bodies = append(p.bodies, data)
	return nil
}

func TestNATSSinkPublishesJSONOnStationSubject(t *testing.T) {
	testlog.Start(t)
	pub := &fakePublisher{}
	s := NewNATSSink(pub, "seis")
	s.Push(batch("AA"))

	require.Equal(t, []string{"seis.XX.AA.BHZ"}, pub.subjects)
	var decoded tracebuf.DecodedSamples
	require.NoError(t, json.Unmarshal(pub.bodies[0], &decoded))
	require.Equal(t, batch("AA"), decoded)
	require.NoError(t, s.Close())
}

func TestNATSSinkSurvivesPublishError(t *testing.T) {
	testlog.Start(t)
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	s := NewNATSSink(pub, "")
	s.Push(batch("AA"))
	require.Empty(t, pub.subjects)
	require.Equal(t, "ewbridge.samples", s.prefix)
}

func TestSubjectTokens(t *testing.T) {
	d := batch("AA")
	require.Equal(t, "p.XX.AA.BHZ", Subject("p", d))

	d.StationID = "AA"
	require.Equal(t, "p.AA.BHZ", Subject("p", d))

	d = tracebuf.DecodedSamples{StationID: "A*B", Channel: ""}
	require.Equal(t, "p.A_B._", Subject("p", d))
}

func TestLogSinkDumpsSamplesAtTrace(t *testing.T) {
	testlog.Start(t)
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.TraceLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf).Level(zerolog.TraceLevel))
	s.Push(batch("AA"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], `"message":"samples received"`)
	require.Contains(t, lines[1], `"value":100`)
	require.Contains(t, lines[2], `"value":200`)

	buf.Reset()
	NewLogSink(zerolog.New(&buf).Level(zerolog.DebugLevel)).Push(batch("AA"))
	require.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

func TestWebSocketSinkBroadcasts(t *testing.T) {
	testlog.Start(t)
	s := NewWebSocketSink(4)
	srv := httptest.NewServer(s)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	s.Push(batch("AA"))
	s.Push(batch("BB"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for _, want := range []string{"AA", "BB"} {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, kind)
		var got tracebuf.DecodedSamples
		require.NoError(t, json.Unmarshal(data, &got))
		require.Equal(t, batch(want), got)
	}

	require.NoError(t, s.Close())
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	require.Equal(t, 0, s.Clients())
}

func TestWebSocketSinkDropsWhenClientBufferFull(t *testing.T) {
	testlog.Start(t)
	s := NewWebSocketSink(1)
	c := &wsClient{send: make(chan []byte, 1)}
	s.clients[c] = struct{}{}

	s.Push(batch("AA"))
	s.Push(batch("BB"))
	require.Len(t, c.send, 1)

	var got tracebuf.DecodedSamples
	require.NoError(t, json.Unmarshal(<-c.send, &got))
	require.Equal(t, "AA", got.Station)
}
