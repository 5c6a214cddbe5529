package protocol

import (
	"errors"
	"testing"

	"github.com/danmuck/ewbridge/internal/testutil/testlog"
)

func TestParseLogoZeroAndSpacePadded(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{"001002019", "  1  2 19"} {
		got, err := ParseLogo([]byte(raw + "trailing"))
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != (Logo{Installation: 1, Module: 2, Type: 19}) {
			t.Fatalf("unexpected logo for %q: %+v", raw, got)
		}
	}
}

func TestParseLogoRejectsGarbage(t *testing.T) {
	testlog.Start(t)
	if _, err := ParseLogo([]byte("SQ:001abc")); !errors.Is(err, ErrInvalidLogo) {
		t.Fatalf("expected ErrInvalidLogo, got %v", err)
	}
	if _, err := ParseLogo([]byte("0010")); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
	if _, err := ParseLogo([]byte("000000999")); !errors.Is(err, ErrInvalidLogo) {
		t.Fatalf("expected overflow to be rejected, got %v", err)
	}
}

func TestLogoWireRoundTrip(t *testing.T) {
	testlog.Start(t)
	logo := Logo{Installation: 0, Module: 0, Type: TypeHeartbeat}
	wire := logo.Wire()
	if string(wire) != "  0  0  3" {
		t.Fatalf("unexpected wire logo %q", wire)
	}
	back, err := ParseLogo(wire)
	if err != nil || back != logo {
		t.Fatalf("round trip mismatch: %+v err=%v", back, err)
	}
}

func TestParseLogoSpec(t *testing.T) {
	testlog.Start(t)
	got, err := ParseLogoSpec("13/ 7/3")
	if err != nil {
		t.Fatalf("parse spec: %v", err)
	}
	if got.String() != "13/7/3" {
		t.Fatalf("unexpected logo %s", got)
	}
	for _, bad := range []string{"1/2", "1/2/x", "1/2/300", ""} {
		if _, err := ParseLogoSpec(bad); !errors.Is(err, ErrInvalidLogoSpec) {
			t.Fatalf("spec %q: expected ErrInvalidLogoSpec, got %v", bad, err)
		}
	}
}
