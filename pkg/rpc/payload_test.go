package rpc

import (
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/coreemu/coreemu/internal/coreerr"
)

func TestReplyNormalizesIntegerTypes(t *testing.T) {
	st, err := reply(map[string]interface{}{"session_id": uint32(5), "count": uint64(7)})
	if err != nil {
		t.Fatal(err)
	}
	id, err := fieldUint32(st, "session_id")
	if err != nil || id != 5 {
		t.Errorf("fieldUint32(session_id) = %d, %v, want 5, nil", id, err)
	}
}

func TestFieldUint32MissingIsValidation(t *testing.T) {
	st, _ := reply(nil)
	if _, err := fieldUint32(st, "missing"); err == nil {
		t.Error("expected validation error for missing field")
	}
}

func TestMustFieldsDefaultToZeroValue(t *testing.T) {
	st, _ := reply(nil)
	if s := mustString(st, "x"); s != "" {
		t.Errorf("mustString on missing field = %q, want empty", s)
	}
	if f := mustFloat(st, "x"); f != 0 {
		t.Errorf("mustFloat on missing field = %v, want 0", f)
	}
	if b := mustBool(st, "x"); b {
		t.Errorf("mustBool on missing field = true, want false")
	}
}

func TestToStatusMapsErrorKinds(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{coreerr.NewValidation("bad"), codes.InvalidArgument},
		{coreerr.NewNotFound("node", "3"), codes.NotFound},
		{coreerr.NewKernel("op", "eth0", nil), codes.Internal},
		{coreerr.NewRemote("peer1", "op", nil), codes.Unavailable},
		{coreerr.ErrCancelled, codes.Canceled},
	}
	for _, c := range cases {
		got := status.Code(toStatus(c.err))
		if got != c.code {
			t.Errorf("toStatus(%v) code = %v, want %v", c.err, got, c.code)
		}
	}
}
