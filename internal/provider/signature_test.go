package provider

import "testing"

func TestVerifySignatureRoundTrip(t *testing.T) {
	body := []byte(`{"event_type":"rebill","reference":"PAY-1"}`)
	sig := Sign("topsecret", body)

	if !VerifySignature("topsecret", body, sig) {
		t.Fatal("signature produced by Sign must verify")
	}
}

func TestVerifySignatureRejects(t *testing.T) {
	body := []byte(`{"event_type":"rebill"}`)
	sig := Sign("topsecret", body)

	cases := []struct {
		name      string
		secret    string
		body      []byte
		signature string
	}{
		{"wrong secret", "other", body, sig},
		{"tampered body", "topsecret", []byte(`{"event_type":"cancel"}`), sig},
		{"garbage signature", "topsecret", body, "not-hex"},
		{"empty signature", "topsecret", body, ""},
	}
	for _, tc := range cases {
		if VerifySignature(tc.secret, tc.body, tc.signature) {
			t.Errorf("%s: verification should fail", tc.name)
		}
	}
}
