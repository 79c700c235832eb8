package store

import "testing"

func TestParamsEncoding(t *testing.T) {
	s, err := EncodeParams(nil)
	if err != nil || s != "{}" {
		t.Fatalf("nil params = %q, %v", s, err)
	}

	s, err = EncodeParams(map[string]string{"port": "9000", "b": ""})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeParams(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["port"] != "9000" || got["b"] != "" {
		t.Fatalf("decoded %v", got)
	}

	empty, err := DecodeParams("")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("empty input = %v, %v", empty, err)
	}
	if _, err := DecodeParams("{not json"); err == nil {
		t.Fatal("expected error for malformed params")
	}
}
