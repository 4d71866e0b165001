package frame

import (
	"testing"

	fuzz "github.com/google/gofuzz"
)

func TestCodecRoundTrip(t *testing.T) {
	fz := fuzz.New().NilChance(0)
	var in PutFrame
	fz.Fuzz(&in)
	b, err := Encode(&in)
	if err != nil {
		t.Fatal(err)
	}
	var out PutFrame
	if err := Decode(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.TargetVarID != in.TargetVarID || out.ByteOffset != in.ByteOffset {
		t.Errorf("got %+v, want %+v", out, in)
	}
	if string(out.Payload) != string(in.Payload) {
		t.Errorf("payload mismatch: got %v, want %v", out.Payload, in.Payload)
	}
}

func TestCodecDetectsCorruption(t *testing.T) {
	b, err := Encode(&GetFrame{TargetVarID: 1, ByteOffset: 8, ElementSize: 4, Count: 2, Handle: 42})
	if err != nil {
		t.Fatal(err)
	}
	b[len(b)-1] ^= 0xff // flip every bit of the last payload byte without touching the checksum
	var out GetFrame
	if err := Decode(b, &out); err == nil {
		t.Fatal("expected checksum mismatch error")
	}
}

func TestCategoryString(t *testing.T) {
	for _, tc := range []struct {
		c    Category
		want string
	}{
		{Put, "PUT"},
		{Get, "GET"},
		{GetResponse, "GET_RESPONSE"},
		{Message, "MESSAGE"},
		{Category(99), "UNKNOWN"},
	} {
		if got := tc.c.String(); got != tc.want {
			t.Errorf("Category(%d).String() = %q, want %q", tc.c, got, tc.want)
		}
	}
}
