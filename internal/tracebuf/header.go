package tracebuf

import (
	"bytes"
	"encoding/binary"
	"math"
	"math/bits"
	"strings"
	"time"
)

// HeaderLen is the size of both header layouts on the wire.
const HeaderLen = 64

// Byte offsets shared by both layouts.
const (
	offPin      = 0
	offNSamp    = 4
	offStart    = 8
	offEnd      = 16
	offRate     = 24
	offStation  = 32
	offNetwork  = 39
	offChannel  = 48
	offLocation = 52
	offVersion  = 55
	offDatatype = 57
	offQuality  = 60

	stationLen       = 7
	networkLen       = 9
	channelLen       = 4
	legacyChannelLen = 9
	locationLen      = 3
	datatypeLen      = 3
)

// Layout selects the header layout of a packet.
type Layout int

const (
	LayoutTraceBuf2 Layout = iota
	// LayoutTraceBuf has a 9-byte channel where TRACEBUF2 carries channel,
	// location and version.
	LayoutTraceBuf
)

// Header is a unified (TRACEBUF2) waveform header.
type Header struct {
	Pin         int32
	SampleCount int32
	StartTime   float64
	EndTime     float64
	SampleRate  float64
	Station     string
	Network     string
	Channel     string
	Location    string
	Version     [2]byte
	Datatype    string
	Quality     [2]byte
}

// Start returns StartTime as a UTC time.
func (h Header) Start() time.Time {
	return epochTime(h.StartTime)
}

// ParseHeader reads a header from the first HeaderLen bytes of b using order
// for the numeric fields. A legacy layout is remapped: the channel is cut to
// three characters, location becomes "--" and version "20".
func ParseHeader(b []byte, order binary.ByteOrder, layout Layout) Header {
	h := Header{
		Pin:         int32(order.Uint32(b[offPin:])),
		SampleCount: int32(order.Uint32(b[offNSamp:])),
		StartTime:   math.Float64frombits(order.Uint64(b[offStart:])),
		EndTime:     math.Float64frombits(order.Uint64(b[offEnd:])),
		SampleRate:  math.Float64frombits(order.Uint64(b[offRate:])),
		Station:     cString(b[offStation : offStation+stationLen]),
		Network:     cString(b[offNetwork : offNetwork+networkLen]),
		Datatype:    cString(b[offDatatype : offDatatype+datatypeLen]),
	}
	copy(h.Quality[:], b[offQuality:offQuality+2])

	if layout == LayoutTraceBuf {
		ch := cString(b[offChannel : offChannel+legacyChannelLen])
		if len(ch) > channelLen-1 {
			ch = ch[:channelLen-1]
		}
		h.Channel = ch
		h.Location = "--"
		h.Version = [2]byte{'2', '0'}
		return h
	}
	h.Channel = cString(b[offChannel : offChannel+channelLen])
	h.Location = cString(b[offLocation : offLocation+locationLen])
	copy(h.Version[:], b[offVersion:offVersion+2])
	return h
}

// AppendHeader writes h in the requested layout and byte order.
func AppendHeader(dst []byte, h Header, order binary.ByteOrder, layout Layout) []byte {
	var b [HeaderLen]byte
	order.PutUint32(b[offPin:], uint32(h.Pin))
	order.PutUint32(b[offNSamp:], uint32(h.SampleCount))
	order.PutUint64(b[offStart:], math.Float64bits(h.StartTime))
	order.PutUint64(b[offEnd:], math.Float64bits(h.EndTime))
	order.PutUint64(b[offRate:], math.Float64bits(h.SampleRate))
	putCString(b[offStation:offStation+stationLen], h.Station)
	putCString(b[offNetwork:offNetwork+networkLen], h.Network)
	if layout == LayoutTraceBuf {
		putCString(b[offChannel:offChannel+legacyChannelLen], h.Channel)
	} else {
		putCString(b[offChannel:offChannel+channelLen], h.Channel)
		putCString(b[offLocation:offLocation+locationLen], h.Location)
		copy(b[offVersion:offVersion+2], h.Version[:])
	}
	putCString(b[offDatatype:offDatatype+datatypeLen], h.Datatype)
	copy(b[offQuality:offQuality+2], h.Quality[:])
	return append(dst, b[:]...)
}

// SwapHeader reverses the byte order of every multi-byte numeric field.
// It is its own inverse.
func SwapHeader(h Header) Header {
	h.Pin = int32(bits.ReverseBytes32(uint32(h.Pin)))
	h.SampleCount = int32(bits.ReverseBytes32(uint32(h.SampleCount)))
	h.StartTime = swapFloat(h.StartTime)
	h.EndTime = swapFloat(h.EndTime)
	h.SampleRate = swapFloat(h.SampleRate)
	return h
}

func swapFloat(f float64) float64 {
	return math.Float64frombits(bits.ReverseBytes64(math.Float64bits(f)))
}

// A header read in the wrong byte order shows up as a start time outside
// these years or a sample rate outside these bounds.
const (
	minYear = 1960
	maxYear = 2050
	minRate = 1e-6
	maxRate = 1e7
)

// plausibleOrder reports whether h looks like it was read in the sender's
// byte order.
func plausibleOrder(h Header) bool {
	return plausibleStart(h.StartTime) && h.SampleRate >= minRate && h.SampleRate <= maxRate
}

// plausibleStart reports whether t (epoch seconds) falls in a sane year.
func plausibleStart(t float64) bool {
	if math.IsNaN(t) || math.IsInf(t, 0) || math.Abs(t) > 1e11 {
		return false
	}
	y := epochTime(t).Year()
	return y >= minYear && y <= maxYear
}

// CheckIntegrity verifies that the end time matches the start time, sample
// count and rate within five sample periods.
func CheckIntegrity(h Header) error {
	if h.SampleCount < 0 {
		return decodeErr(ErrMalformedHeader, zeroLogo, "negative sample count %d", h.SampleCount)
	}
	if !(h.SampleRate > 0) || math.IsInf(h.SampleRate, 0) {
		return decodeErr(ErrMalformedHeader, zeroLogo, "invalid sample rate %v", h.SampleRate)
	}
	expected := h.StartTime + float64(h.SampleCount-1)/h.SampleRate
	tolerance := 5 / h.SampleRate
	if !(math.Abs(h.EndTime-expected) <= tolerance) {
		return decodeErr(ErrMalformedHeader, zeroLogo,
			"end time %.6f differs from expected %.6f by more than %.6fs", h.EndTime, expected, tolerance)
	}
	return nil
}

// DatatypeWidth returns the sample width in bytes for a datatype code.
func DatatypeWidth(datatype string) (int, bool) {
	switch datatype {
	case "s2", "i2":
		return 2, true
	case "s4", "i4":
		return 4, true
	default:
		return 0, false
	}
}

// localDatatype maps a datatype code to its little-endian equivalent.
func localDatatype(datatype string) string {
	if len(datatype) == 2 && datatype[0] == 's' {
		return "i" + datatype[1:]
	}
	return datatype
}

func epochTime(t float64) time.Time {
	sec, frac := math.Modf(t)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

// putCString copies s into dst leaving at least one trailing NUL.
func putCString(dst []byte, s string) {
	n := copy(dst[:len(dst)-1], s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}
