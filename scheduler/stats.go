package scheduler

import (
	"encoding/base64"
	"encoding/json"

	"github.com/tinylib/msgp/msgp"
)

// RefreshStats is the statistics shape storage_usage_refresh reports back
// as a JobRun.stats_json payload. It hand-implements msgp.Marshaler /
// msgp.Unmarshaler the way `msgp -file ... ` would generate them (see
// dsort/extract/shard_gen.go's DecodeMsg for the same append/read-bytes
// idiom), since running `go generate` isn't an option here — the runtime
// `github.com/tinylib/msgp/msgp` helpers this hand-written code calls are
// the exact ones generated code calls too.
type RefreshStats struct {
	Refreshed int `msg:"refreshed"`
	Failed    int `msg:"failed"`
}

// MarshalMsg implements msgp.Marshaler.
func (z *RefreshStats) MarshalMsg(b []byte) (o []byte, err error) {
	o = msgp.Require(b, z.Msgsize())
	o = msgp.AppendMapHeader(o, 2)
	o = msgp.AppendString(o, "refreshed")
	o = msgp.AppendInt(o, z.Refreshed)
	o = msgp.AppendString(o, "failed")
	o = msgp.AppendInt(o, z.Failed)
	return
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *RefreshStats) UnmarshalMsg(bts []byte) (o []byte, err error) {
	var field []byte
	var n uint32
	n, bts, err = msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for n > 0 {
		n--
		field, bts, err = msgp.ReadMapKeyZC(bts)
		if err != nil {
			return bts, err
		}
		switch string(field) {
		case "refreshed":
			z.Refreshed, bts, err = msgp.ReadIntBytes(bts)
		case "failed":
			z.Failed, bts, err = msgp.ReadIntBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

// Msgsize returns an upper bound on the encoded size, the same role the
// generated Msgsize method plays (pre-sizing the append buffer).
func (z *RefreshStats) Msgsize() int {
	return 1 + 10 + msgp.IntSize + 7 + msgp.IntSize
}

// EncodeStatsJSON packs a msgp.Marshaler into the json.RawMessage
// JobRun.StatsJSON expects: the binary msgp encoding, base64-wrapped in a
// one-field JSON envelope so it still round-trips through every store
// path that treats stats_json as JSON text.
func EncodeStatsJSON(v interface {
	MarshalMsg([]byte) ([]byte, error)
}) (json.RawMessage, error) {
	bin, err := v.MarshalMsg(nil)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Encoding string `json:"encoding"`
		Data     string `json:"data"`
	}{Encoding: "msgp", Data: base64.StdEncoding.EncodeToString(bin)})
}
