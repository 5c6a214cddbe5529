package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known Earthworm message types.
const (
	TypeHeartbeat uint8 = 3
	TypeAck       uint8 = 6
	TypeTraceBuf2 uint8 = 19
	TypeTraceBuf  uint8 = 20
)

// LogoLen is the size of the ASCII logo that prefixes every payload.
const LogoLen = 9

// Logo identifies the producer and class of a message.
type Logo struct {
	Installation uint8
	Module       uint8
	Type         uint8
}

// ParseLogo reads the three 3-character decimal fields at the front of b.
// Fields may be zero- or space-padded.
func ParseLogo(b []byte) (Logo, error) {
	if len(b) < LogoLen {
		return Logo{}, ErrShortPayload
	}
	var fields [3]uint8
	for i := range fields {
		raw := strings.TrimSpace(string(b[i*3 : i*3+3]))
		v, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return Logo{}, fmt.Errorf("%w: field %d %q", ErrInvalidLogo, i, b[i*3:i*3+3])
		}
		fields[i] = uint8(v)
	}
	return Logo{Installation: fields[0], Module: fields[1], Type: fields[2]}, nil
}

// ParseLogoSpec parses the "inst/mod/type" form used in configuration.
func ParseLogoSpec(spec string) (Logo, error) {
	parts := strings.Split(strings.TrimSpace(spec), "/")
	if len(parts) != 3 {
		return Logo{}, fmt.Errorf("%w: %q", ErrInvalidLogoSpec, spec)
	}
	var fields [3]uint8
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 8)
		if err != nil {
			return Logo{}, fmt.Errorf("%w: %q", ErrInvalidLogoSpec, spec)
		}
		fields[i] = uint8(v)
	}
	return Logo{Installation: fields[0], Module: fields[1], Type: fields[2]}, nil
}

// Wire returns the 9-character logo as the export processes write it:
// three right-aligned, space-padded fields.
func (l Logo) Wire() []byte {
	return []byte(fmt.Sprintf("%3d%3d%3d", l.Installation, l.Module, l.Type))
}

func (l Logo) String() string {
	return fmt.Sprintf("%d/%d/%d", l.Installation, l.Module, l.Type)
}
