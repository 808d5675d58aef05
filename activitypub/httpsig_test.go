package activitypub

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/soloap/soloap/util"
)

func TestSignAndVerifyRequestRoundTrip(t *testing.T) {
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}

	privateKey, err := ParsePrivateKey(keys.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	body := []byte(`{"type":"Like"}`)
	req, err := http.NewRequest(http.MethodPost, "https://d.example/inbox", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", digestBody(body))

	keyId := "https://r.example/users/alice#main-key"
	if err := SignRequest(req, privateKey, keyId); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	actor, err := VerifyRequest(req, keys.Public)
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if actor != "https://r.example/users/alice" {
		t.Errorf("actor = %q, want stripped of #main-key fragment", actor)
	}
}

func TestVerifyRequestRejectsWrongKey(t *testing.T) {
	keys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	otherKeys, err := util.GeneratePemKeypair()
	if err != nil {
		t.Fatalf("generate other keypair: %v", err)
	}

	privateKey, err := ParsePrivateKey(keys.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	body := []byte(`{}`)
	req, _ := http.NewRequest(http.MethodPost, "https://d.example/inbox", bytes.NewReader(body))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", digestBody(body))
	if err := SignRequest(req, privateKey, "https://r.example/users/alice#main-key"); err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	if _, err := VerifyRequest(req, otherKeys.Public); err == nil {
		t.Fatal("expected verification failure against mismatched public key")
	}
}

func TestSignRequestRequiresDateAndDigest(t *testing.T) {
	keys, _ := util.GeneratePemKeypair()
	privateKey, _ := ParsePrivateKey(keys.Private)

	req, _ := http.NewRequest(http.MethodPost, "https://d.example/inbox", bytes.NewReader([]byte(`{}`)))
	if err := SignRequest(req, privateKey, "kid"); err == nil {
		t.Fatal("expected error for missing Date/Digest headers")
	}
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePrivateKey("not a pem"); err == nil {
		t.Fatal("expected error for non-PEM input")
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePublicKey("not a pem"); err == nil {
		t.Fatal("expected error for non-PEM input")
	}
}
