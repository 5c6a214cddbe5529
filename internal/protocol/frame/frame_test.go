package frame

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/danmuck/ewbridge/internal/protocol"
	"github.com/danmuck/ewbridge/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, a *Assembler, chunks ...[]byte) [][]byte {
	t.Helper()
	var out [][]byte
	for _, c := range chunks {
		err := a.Feed(c, func(msg []byte) error {
			out = append(out, msg)
			return nil
		})
		require.NoError(t, err)
	}
	return out
}

func TestEncodeAssembleRoundTripWithSacredBytes(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		p := make([]byte, rng.Intn(300))
		for j := range p {
			// bias towards the sacred characters
			switch rng.Intn(4) {
			case 0:
				p[j] = []byte{STX, ETX, ESC}[rng.Intn(3)]
			default:
				p[j] = byte(rng.Intn(256))
			}
		}
		a := NewAssembler(DefaultLimits(), nil)
		got := collect(t, a, Encode(p))
		require.Len(t, got, 1, "payload %d", i)
		require.True(t, bytes.Equal(p, got[0]), "payload %d mismatch", i)
		require.Equal(t, StateExpecting, a.State())
	}
}

func TestAssembleAcrossArbitraryReadBoundaries(t *testing.T) {
	testlog.Start(t)
	payloads := [][]byte{
		[]byte("  0  0  3alive"),
		{STX, ESC, ETX, 'x', ESC},
		[]byte("000000019tracebuf-body"),
	}
	var stream []byte
	for _, p := range payloads {
		stream = append(stream, Encode(p)...)
	}
	for split := 1; split < len(stream); split++ {
		a := NewAssembler(DefaultLimits(), nil)
		got := collect(t, a, stream[:split], stream[split:])
		require.Len(t, got, len(payloads), "split=%d", split)
		for i := range payloads {
			require.Equal(t, payloads[i], got[i], "split=%d msg=%d", split, i)
		}
	}
}

func TestUnescapedStartResyncsAndRecovers(t *testing.T) {
	testlog.Start(t)
	var resyncs []*ResyncError
	a := NewAssembler(DefaultLimits(), func(e *ResyncError) { resyncs = append(resyncs, e) })

	stream := []byte{STX, 'a', 'b', STX, 'c', ETX}
	stream = append(stream, Encode([]byte("good"))...)
	got := collect(t, a, stream)

	require.Len(t, resyncs, 1)
	require.True(t, errors.Is(resyncs[0], ErrUnescapedStart))
	require.Equal(t, 2, resyncs[0].Discarded)
	require.Equal(t, [][]byte{[]byte("good")}, got)
	require.Equal(t, uint64(1), a.Stats().Resyncs)
}

func TestUnknownEscapeResyncs(t *testing.T) {
	testlog.Start(t)
	var resyncs []*ResyncError
	a := NewAssembler(DefaultLimits(), func(e *ResyncError) { resyncs = append(resyncs, e) })

	stream := []byte{STX, 'a', ESC, 'q', 'b', ETX}
	stream = append(stream, Encode([]byte("next"))...)
	got := collect(t, a, stream)

	require.Len(t, resyncs, 1)
	require.ErrorIs(t, resyncs[0], ErrUnknownEscape)
	require.Equal(t, byte('q'), resyncs[0].Byte)
	require.Equal(t, [][]byte{[]byte("next")}, got)
}

func TestGarbageBetweenFramesResyncs(t *testing.T) {
	testlog.Start(t)
	var resyncs []*ResyncError
	a := NewAssembler(DefaultLimits(), func(e *ResyncError) { resyncs = append(resyncs, e) })

	stream := append(Encode([]byte("one")), 'z', 'z')
	stream = append(stream, Encode([]byte("two"))...)
	got := collect(t, a, stream)

	require.Len(t, resyncs, 1)
	require.ErrorIs(t, resyncs[0], ErrUnexpectedByte)
	require.Equal(t, StateExpecting, resyncs[0].State)
	require.Equal(t, [][]byte{[]byte("one"), []byte("two")}, got)
}

func TestEscapedStartDoesNotOpenMessageWhileSearching(t *testing.T) {
	testlog.Start(t)
	a := NewAssembler(DefaultLimits(), nil)
	stream := []byte{'n', 'o', 'i', 's', 'e', ESC, STX, 'x', ETX}
	stream = append(stream, Encode([]byte("real"))...)
	got := collect(t, a, stream)
	require.Equal(t, [][]byte{[]byte("real")}, got)
}

func TestOverflowDiscardsAndResyncs(t *testing.T) {
	testlog.Start(t)
	var resyncs []*ResyncError
	a := NewAssembler(Limits{MaxMessageBytes: 8}, func(e *ResyncError) { resyncs = append(resyncs, e) })

	stream := Encode([]byte("0123456789"))
	stream = append(stream, Encode([]byte("01234567"))...)
	got := collect(t, a, stream)

	require.Len(t, resyncs, 1)
	require.ErrorIs(t, resyncs[0], ErrOverflow)
	require.Equal(t, [][]byte{[]byte("01234567")}, got)
}

func TestEmitErrorStopsFeed(t *testing.T) {
	testlog.Start(t)
	a := NewAssembler(DefaultLimits(), nil)
	boom := errors.New("boom")
	calls := 0
	stream := append(Encode([]byte("a")), Encode([]byte("b"))...)
	err := a.Feed(stream, func([]byte) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestResetDropsPartialMessage(t *testing.T) {
	testlog.Start(t)
	a := NewAssembler(DefaultLimits(), nil)
	require.Empty(t, collect(t, a, []byte{STX, 'p', 'a', 'r'}))
	require.Equal(t, StateAssembling, a.State())
	a.Reset()
	require.Equal(t, StateSearching, a.State())
	got := collect(t, a, []byte("tial"), Encode([]byte("fresh")))
	require.Equal(t, [][]byte{[]byte("fresh")}, got)
}

func TestWriteMessageLayout(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	logo := protocol.Logo{Installation: 0, Module: 0, Type: protocol.TypeAck}
	require.NoError(t, WriteMessage(&buf, logo, []byte("ACK:042"), DefaultLimits()))
	want := append([]byte{STX}, []byte("  0  0  6ACK:042")...)
	want = append(want, ETX)
	require.Equal(t, want, buf.Bytes())

	err := WriteMessage(&buf, logo, make([]byte, 10), Limits{MaxMessageBytes: 12})
	require.ErrorIs(t, err, ErrMessageTooLarge)
}
