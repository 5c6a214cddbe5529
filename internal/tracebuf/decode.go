package tracebuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ewbridge/internal/protocol"
)

var zeroLogo protocol.Logo

// StationIDMode selects how the station identifier is composed.
type StationIDMode string

const (
	StationIDNetSta StationIDMode = "net.sta"
	StationIDSta    StationIDMode = "sta"
)

// ParseStationIDMode validates a configured mode; empty selects net.sta.
func ParseStationIDMode(raw string) (StationIDMode, error) {
	switch StationIDMode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StationIDNetSta:
		return StationIDNetSta, nil
	case StationIDSta:
		return StationIDSta, nil
	default:
		return "", fmt.Errorf("tracebuf: unknown station id mode %q", raw)
	}
}

type Config struct {
	TraceBufType   uint8
	TraceBuf2Type  uint8
	MaxPacketBytes int
	StationID      StationIDMode
}

func DefaultConfig() Config {
	return Config{
		TraceBufType:   protocol.TypeTraceBuf,
		TraceBuf2Type:  protocol.TypeTraceBuf2,
		MaxPacketBytes: 4096,
		StationID:      StationIDNetSta,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TraceBufType == 0 {
		c.TraceBufType = d.TraceBufType
	}
	if c.TraceBuf2Type == 0 {
		c.TraceBuf2Type = d.TraceBuf2Type
	}
	if c.MaxPacketBytes <= 0 {
		c.MaxPacketBytes = d.MaxPacketBytes
	}
	if c.StationID == "" {
		c.StationID = d.StationID
	}
	return c
}

// DecodedSamples is one waveform packet in local byte order with samples
// widened to 32 bits.
type DecodedSamples struct {
	StationID  string        `json:"station_id"`
	Network    string        `json:"network"`
	Station    string        `json:"station"`
	Location   string        `json:"location"`
	Channel    string        `json:"channel"`
	StartTime  float64       `json:"start_time"`
	SampleRate float64       `json:"sample_rate"`
	Samples    []int32       `json:"samples"`
	Logo       protocol.Logo `json:"-"`
	Header     Header        `json:"-"`
	Swapped    bool          `json:"-"`
}

// Start returns StartTime as a UTC time.
func (d DecodedSamples) Start() time.Time {
	return epochTime(d.StartTime)
}

// Decoder is stateless apart from its configuration and safe for concurrent
// use.
type Decoder struct {
	cfg Config
}

func NewDecoder(cfg Config) *Decoder {
	return &Decoder{cfg: cfg.withDefaults()}
}

func (d *Decoder) Config() Config {
	return d.cfg
}

// Decode turns a logo-prefixed payload into a sample batch. Errors are
// *DecodeError values matching ErrNonWaveform, ErrMalformedHeader,
// ErrUnsupportedDatatype, or a protocol logo error.
func (d *Decoder) Decode(payload []byte) (DecodedSamples, error) {
	logo, err := protocol.ParseLogo(payload)
	if err != nil {
		return DecodedSamples{}, &DecodeError{Kind: err}
	}
	body := payload[protocol.LogoLen:]

	layout := LayoutTraceBuf2
	switch logo.Type {
	case d.cfg.TraceBuf2Type:
	case d.cfg.TraceBufType:
		layout = LayoutTraceBuf
	default:
		return DecodedSamples{}, &DecodeError{Kind: ErrNonWaveform, Logo: logo}
	}

	if len(body) < HeaderLen {
		return DecodedSamples{}, decodeErr(ErrMalformedHeader, logo, "header truncated at %d bytes", len(body))
	}

	var order binary.ByteOrder = binary.LittleEndian
	h := ParseHeader(body, order, layout)
	swapped := false
	if !plausibleOrder(h) {
		h = SwapHeader(h)
		order = binary.BigEndian
		swapped = true
		if !plausibleOrder(h) {
			return DecodedSamples{}, decodeErr(ErrMalformedHeader, logo, "start time or rate implausible in either byte order")
		}
	}

	width, ok := DatatypeWidth(h.Datatype)
	if !ok {
		return DecodedSamples{}, decodeErr(ErrUnsupportedDatatype, logo, "datatype %q", h.Datatype)
	}

	if h.SampleCount < 0 || int(h.SampleCount) > d.cfg.MaxPacketBytes/width {
		return DecodedSamples{}, decodeErr(ErrMalformedHeader, logo,
			"sample count %d exceeds packet limit of %d bytes", h.SampleCount, d.cfg.MaxPacketBytes)
	}
	if err := CheckIntegrity(h); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Logo = logo
		}
		return DecodedSamples{}, err
	}

	n := int(h.SampleCount)
	need := HeaderLen + n*width
	if len(body) < need {
		return DecodedSamples{}, decodeErr(ErrMalformedHeader, logo,
			"sample data truncated: have %d bytes, need %d", len(body), need)
	}

	samples := readSamples(body[HeaderLen:need], n, width, order)
	if swapped {
		h.Datatype = localDatatype(h.Datatype)
	}

	return DecodedSamples{
		StationID:  stationID(d.cfg.StationID, h.Network, h.Station),
		Network:    h.Network,
		Station:    h.Station,
		Location:   h.Location,
		Channel:    h.Channel,
		StartTime:  h.StartTime,
		SampleRate: h.SampleRate,
		Samples:    samples,
		Logo:       logo,
		Header:     h,
		Swapped:    swapped,
	}, nil
}

func readSamples(raw []byte, n, width int, order binary.ByteOrder) []int32 {
	out := make([]int32, n)
	if width == 2 {
		for i := range out {
			out[i] = int32(int16(order.Uint16(raw[i*2:])))
		}
		return out
	}
	for i := range out {
		out[i] = int32(order.Uint32(raw[i*4:]))
	}
	return out
}

func stationID(mode StationIDMode, network, station string) string {
	if mode == StationIDSta || network == "" {
		return station
	}
	return network + "." + station
}

// EncodePacket builds a logo-prefixed waveform payload. Samples are written
// at the width implied by h.Datatype; SampleCount is taken from samples.
func EncodePacket(logo protocol.Logo, layout Layout, h Header, samples []int32, order binary.ByteOrder) ([]byte, error) {
	width, ok := DatatypeWidth(h.Datatype)
	if !ok {
		return nil, fmt.Errorf("%w: datatype %q", ErrUnsupportedDatatype, h.Datatype)
	}
	h.SampleCount = int32(len(samples))

	out := make([]byte, 0, protocol.LogoLen+HeaderLen+len(samples)*width)
	out = append(out, fmt.Sprintf("%03d%03d%03d", logo.Installation, logo.Module, logo.Type)...)
	out = AppendHeader(out, h, order, layout)
	data := make([]byte, len(samples)*width)
	for i, s := range samples {
		if width == 2 {
			order.PutUint16(data[i*2:], uint16(int16(s)))
			continue
		}
		order.PutUint32(data[i*4:], uint32(s))
	}
	return append(out, data...), nil
}
