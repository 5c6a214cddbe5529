package sink

import (
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/rs/zerolog"
)

// LogSink writes a summary of each batch at debug level and every sample at
// trace level.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Push(d tracebuf.DecodedSamples) {
	s.logger.Debug().
		Str("station", d.StationID).
		Str("channel", d.Channel).
		Str("location", d.Location).
		Int("samples", len(d.Samples)).
		Float64("rate", d.SampleRate).
		Time("start", d.Start()).
		Bool("swapped", d.Swapped).
		Msg("samples received")

	if s.logger.GetLevel() > zerolog.TraceLevel || zerolog.GlobalLevel() > zerolog.TraceLevel {
		return
	}
	for i, v := range d.Samples {
		s.logger.Trace().
			Str("station", d.StationID).
			Str("channel", d.Channel).
			Int("index", i).
			Int32("value", v).
			Msg("sample")
	}
}
