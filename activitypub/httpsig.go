package activitypub

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// ParsePrivateKey accepts either PKCS#1 ("RSA PRIVATE KEY") or PKCS#8
// ("PRIVATE KEY") PEM encodings, matching both the key format this server
// generates and older stegodon-lineage private keys.
func ParsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("httpsig: failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("httpsig: private key is not RSA")
	}
	return rsaKey, nil
}

// ParsePublicKey accepts PKCS#1 ("RSA PUBLIC KEY") or PKIX ("PUBLIC KEY")
// PEM encodings, so we can verify signatures from both old and new peers.
func ParsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("httpsig: failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("httpsig: parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("httpsig: public key is not RSA")
	}
	return rsaKey, nil
}

func digestBody(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// SignRequest signs r with privateKey under keyId, covering
// (request-target), host, date and digest, using rsa-sha256 per the
// draft-cavage HTTP Signatures scheme ActivityPub relies on.
func SignRequest(r *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	if r.Header.Get("Host") == "" {
		r.Header.Set("Host", r.Host)
	}
	if r.Header.Get("Date") == "" {
		return fmt.Errorf("httpsig: request missing Date header")
	}
	if r.Header.Get("Digest") == "" {
		return fmt.Errorf("httpsig: request missing Digest header")
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("httpsig: new signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, r, nil)
}

// VerifyRequest verifies r's HTTP signature against publicKeyPEM and
// returns the actor URI extracted from the keyId (stripped of any
// #fragment, e.g. "#main-key").
func VerifyRequest(r *http.Request, publicKeyPEM string) (string, error) {
	publicKey, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}

	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("httpsig: new verifier: %w", err)
	}

	if err := verifier.Verify(publicKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("httpsig: verify failed: %w", err)
	}

	keyId := verifier.KeyId()
	actorURI, _, _ := strings.Cut(keyId, "#")
	return actorURI, nil
}
