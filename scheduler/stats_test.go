package scheduler

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestRefreshStatsMsgpRoundTrip(t *testing.T) {
	want := &RefreshStats{Refreshed: 7, Failed: 2}

	enc, err := want.MarshalMsg(nil)
	if err != nil {
		t.Fatalf("MarshalMsg: %v", err)
	}

	var got RefreshStats
	rest, err := got.UnmarshalMsg(enc)
	if err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected all bytes consumed, %d left over", len(rest))
	}
	if got != *want {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, *want)
	}
}

func TestEncodeStatsJSONWrapsMsgpAsBase64(t *testing.T) {
	stats := &RefreshStats{Refreshed: 3, Failed: 0}

	raw, err := EncodeStatsJSON(stats)
	if err != nil {
		t.Fatalf("EncodeStatsJSON: %v", err)
	}

	var envelope struct {
		Encoding string `json:"encoding"`
		Data     string `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if envelope.Encoding != "msgp" {
		t.Fatalf("expected encoding=msgp, got %q", envelope.Encoding)
	}

	bin, err := base64.StdEncoding.DecodeString(envelope.Data)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	var decoded RefreshStats
	if _, err := decoded.UnmarshalMsg(bin); err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if decoded != *stats {
		t.Fatalf("decoded mismatch: got %+v want %+v", decoded, *stats)
	}
}
