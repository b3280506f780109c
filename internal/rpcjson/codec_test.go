package rpcjson

import (
	"testing"

	"google.golang.org/grpc/encoding"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(Name)
	if c == nil {
		t.Fatal("json codec not registered")
	}

	b, err := c.Marshal(&sample{Name: "eu01", Count: 3})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out sample
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Name != "eu01" || out.Count != 3 {
		t.Errorf("unexpected round trip result: %+v", out)
	}
}

func TestCodecEmptyPayload(t *testing.T) {
	var out sample
	if err := (codec{}).Unmarshal(nil, &out); err != nil {
		t.Fatalf("empty payload should decode to zero value, got %v", err)
	}
}
