package attest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"fmt"
)

// Algorithm is the closed set of signature schemes keys are generated for.
type Algorithm string

const (
	AlgorithmRSAPSS    Algorithm = "rsa_pss_sha256"
	AlgorithmECDSAP256 Algorithm = "ecdsa_p256"
	AlgorithmECDSAP384 Algorithm = "ecdsa_p384"
	AlgorithmECDSAP521 Algorithm = "ecdsa_p521"
	AlgorithmEd25519   Algorithm = "ed25519"
)

func (a Algorithm) Valid() bool {
	_, ok := algorithms[a]
	return ok
}

const rsaKeyBits = 2048

// algorithmImpl is one variant of the signing dispatch table. Hashing is
// internal to each variant: RSA-PSS and the ECDSA curves sign a digest
// matched to their security level, Ed25519 signs the message itself.
type algorithmImpl struct {
	generate func() (crypto.Signer, error)
	sign     func(key crypto.Signer, message []byte) ([]byte, error)
	verify   func(pub crypto.PublicKey, message, sig []byte) bool
}

var algorithms = map[Algorithm]algorithmImpl{
	AlgorithmRSAPSS: {
		generate: func() (crypto.Signer, error) {
			return rsa.GenerateKey(rand.Reader, rsaKeyBits)
		},
		sign: func(key crypto.Signer, message []byte) ([]byte, error) {
			priv, ok := key.(*rsa.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("rsa_pss_sha256 requires an RSA private key")
			}
			digest := sha256.Sum256(message)
			return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:],
				&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
		},
		verify: func(pub crypto.PublicKey, message, sig []byte) bool {
			rsaPub, ok := pub.(*rsa.PublicKey)
			if !ok {
				return false
			}
			digest := sha256.Sum256(message)
			return rsa.VerifyPSS(rsaPub, crypto.SHA256, digest[:], sig,
				&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}) == nil
		},
	},
	AlgorithmECDSAP256: ecdsaImpl(elliptic.P256(), crypto.SHA256),
	AlgorithmECDSAP384: ecdsaImpl(elliptic.P384(), crypto.SHA384),
	AlgorithmECDSAP521: ecdsaImpl(elliptic.P521(), crypto.SHA512),
	AlgorithmEd25519: {
		generate: func() (crypto.Signer, error) {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			return priv, err
		},
		sign: func(key crypto.Signer, message []byte) ([]byte, error) {
			priv, ok := key.(ed25519.PrivateKey)
			if !ok {
				return nil, fmt.Errorf("ed25519 requires an Ed25519 private key")
			}
			return ed25519.Sign(priv, message), nil
		},
		verify: func(pub crypto.PublicKey, message, sig []byte) bool {
			edPub, ok := pub.(ed25519.PublicKey)
			if !ok || len(sig) != ed25519.SignatureSize {
				return false
			}
			return ed25519.Verify(edPub, message, sig)
		},
	},
}

func ecdsaImpl(curve elliptic.Curve, hash crypto.Hash) algorithmImpl {
	return algorithmImpl{
		generate: func() (crypto.Signer, error) {
			return ecdsa.GenerateKey(curve, rand.Reader)
		},
		sign: func(key crypto.Signer, message []byte) ([]byte, error) {
			priv, ok := key.(*ecdsa.PrivateKey)
			if !ok || priv.Curve != curve {
				return nil, fmt.Errorf("key does not match curve %s", curve.Params().Name)
			}
			return ecdsa.SignASN1(rand.Reader, priv, digestFor(hash, message))
		},
		verify: func(pub crypto.PublicKey, message, sig []byte) bool {
			ecPub, ok := pub.(*ecdsa.PublicKey)
			if !ok || ecPub.Curve != curve {
				return false
			}
			return ecdsa.VerifyASN1(ecPub, digestFor(hash, message), sig)
		},
	}
}

func digestFor(hash crypto.Hash, message []byte) []byte {
	switch hash {
	case crypto.SHA384:
		d := sha512.Sum384(message)
		return d[:]
	case crypto.SHA512:
		d := sha512.Sum512(message)
		return d[:]
	default:
		d := sha256.Sum256(message)
		return d[:]
	}
}

// generateSigner creates a fresh private key for the algorithm.
func generateSigner(alg Algorithm) (crypto.Signer, error) {
	impl, ok := algorithms[alg]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q", alg)
	}
	return impl.generate()
}

// signMessage signs message bytes with the algorithm's scheme.
func signMessage(alg Algorithm, key crypto.Signer, message []byte) ([]byte, error) {
	impl, ok := algorithms[alg]
	if !ok {
		return nil, fmt.Errorf("unknown algorithm %q", alg)
	}
	return impl.sign(key, message)
}

// verifyMessage reports whether sig is a valid signature over message.
// Malformed keys and truncated signatures report false, never panic.
func verifyMessage(alg Algorithm, pub crypto.PublicKey, message, sig []byte) bool {
	impl, ok := algorithms[alg]
	if !ok {
		return false
	}
	return impl.verify(pub, message, sig)
}

// marshalPrivate serializes a private key to PKCS#8 DER.
func marshalPrivate(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return der, nil
}

// parsePrivate restores a private key from PKCS#8 DER.
func parsePrivate(der []byte) (crypto.Signer, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("parsed key cannot sign")
	}
	return signer, nil
}

// marshalPublic serializes a public key to PKIX DER.
func marshalPublic(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return der, nil
}

// parsePublic restores a public key from PKIX DER.
func parsePublic(der []byte) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

const nonceSize = 32

// newNonce returns 32 bytes of cryptographically secure randomness.
func newNonce() ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}
