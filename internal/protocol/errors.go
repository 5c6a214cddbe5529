package protocol

import "errors"

var (
	ErrShortPayload      = errors.New("protocol: payload too short to carry a logo")
	ErrVariantPrefix     = errors.New("protocol: missing sequence prefix for acknowledged export")
	ErrHeartbeatMismatch = errors.New("protocol: heartbeat text does not match configuration")
	ErrInvalidLogo       = errors.New("protocol: invalid logo")
	ErrInvalidLogoSpec   = errors.New("protocol: invalid logo spec")
	ErrInvalidSequence   = errors.New("protocol: invalid sequence number")
)
