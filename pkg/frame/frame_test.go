package frame

import (
	"bytes"
	"testing"

	"github.com/aetherflow/qmux/pkg/seq"
)

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		Payload{Seq: seq.New(42), Data: []byte("hello")},
		Payload{Seq: seq.New(0), Data: nil},
		PayloadAck{Seq: seq.New(42)},
		Ping{Seq: seq.New(7)},
		PingAck{Seq: seq.New(7)},
		Connect{ConnectionID: 0xdeadbeef},
		Parity{Group: 3, ShardIndex: 1, DataShards: 10, ParityShards: 3, Data: []byte("shard")},
	}

	for _, want := range cases {
		encoded := want.Encode()
		if Kind(encoded[0]) != want.Kind() {
			t.Fatalf("encoded leading byte = 0x%02x, want %v", encoded[0], want.Kind())
		}
		got, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode(%v) failed: %v", want, err)
		}
		if got.Kind() != want.Kind() {
			t.Fatalf("decoded kind = %v, want %v", got.Kind(), want.Kind())
		}
		if !bytes.Equal(got.Encode(), encoded) {
			t.Fatalf("re-encode mismatch: got %v, want %v", got.Encode(), encoded)
		}
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("decoding empty input should fail")
	}
}

func TestDecodeUnknownLeadingByte(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatal("decoding an unrecognized leading byte should fail")
	}
}

func TestDecodeTruncatedFrames(t *testing.T) {
	cases := map[string][]byte{
		"payload header":    {byte(KindPayload), 0x00},
		"payload data":      {byte(KindPayload), 0x00, 0x01, 0x00, 0x05, 'h', 'i'},
		"payload ack":       {byte(KindPayloadAck), 0x00},
		"ping":              {byte(KindPing), 0x00},
		"ping ack":          {byte(KindPingAck), 0x00},
		"connect":           {byte(KindConnect), 0x00, 0x00},
		"parity header":     {byte(KindParity), 0x00, 0x00},
		"parity data short": {byte(KindParity), 0, 0, 0, 1, 0, 10, 3, 0, 5, 'h', 'i'},
	}
	for name, data := range cases {
		if _, err := Decode(data); err == nil {
			t.Errorf("%s: expected a decode error for truncated input %v", name, data)
		}
	}
}

func TestPayloadEncodingLayout(t *testing.T) {
	p := Payload{Seq: seq.New(1), Data: []byte{0xaa, 0xbb}}
	got := p.Encode()
	want := []byte{byte(KindPayload), 0x00, 0x01, 0x00, 0x02, 0xaa, 0xbb}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload encoding = %v, want %v", got, want)
	}
}
