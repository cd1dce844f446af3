package utils

import "testing"

func TestErrInvalidUUID(t *testing.T) {
	bad := []byte("abcd")
	want := `Invalid uuid:"abcd"`
	got := ErrInvalidUUID{bad}.Error()
	if want != got {
		t.Fatalf("want:%q got:%q", want, got)
	}
}

func TestDecodeUUID(t *testing.T) {
	id := GenerateUUIDv4()
	decoded, err := DecodeUUID(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if decoded != id {
		t.Errorf("decoded %s, expected %s", decoded.String(), id.String())
	}
	if _, err := DecodeUUID("abcd"); err == nil {
		t.Errorf("accepted short uuid")
	}
}
