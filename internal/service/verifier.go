package service

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	asoc "github.com/partim/atomtools"
	"github.com/partim/atomtools/internal/config"
	"github.com/partim/atomtools/internal/domain"
)

// Verifier checks certificates against the configured trust anchors. Under
// the manual policy a certificate is confirmed when its fingerprint appears
// in the operator-approved list and awaits approval otherwise. Under the
// ca-chain policy the certificate's signature must verify against one of the
// anchor keys; the signed body is the certificate's canonical serialization
// with the signature attribute removed.
type Verifier struct {
	policy   string
	approved map[string]bool

	ed25519Anchors []ed25519.PublicKey
	secpAnchors    [][]byte
}

func NewVerifier(conf config.Trust) (*Verifier, error) {
	v := &Verifier{
		policy:   conf.AnchorPolicy,
		approved: make(map[string]bool, len(conf.ApprovedFingerprints)),
	}
	switch conf.AnchorPolicy {
	case config.AnchorPolicyManual, config.AnchorPolicyCAChain:
	default:
		return nil, errors.Errorf("unknown anchor policy %q", conf.AnchorPolicy)
	}

	for _, fp := range conf.ApprovedFingerprints {
		v.approved[strings.ToLower(strings.TrimSpace(fp))] = true
	}

	for _, anchor := range conf.Anchors {
		key, err := base64.StdEncoding.DecodeString(anchor.PublicKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode trust anchor key")
		}
		switch anchor.Algorithm {
		case asoc.AlgorithmEd25519:
			if len(key) != ed25519.PublicKeySize {
				return nil, errors.Errorf("ed25519 trust anchor key has %d bytes, want %d", len(key), ed25519.PublicKeySize)
			}
			v.ed25519Anchors = append(v.ed25519Anchors, ed25519.PublicKey(key))
		case asoc.AlgorithmSecp256k1:
			if len(key) != 33 && len(key) != 65 {
				return nil, errors.Errorf("secp256k1 trust anchor key has %d bytes, want 33 or 65", len(key))
			}
			v.secpAnchors = append(v.secpAnchors, key)
		default:
			return nil, errors.Errorf("unknown trust anchor algorithm %q", anchor.Algorithm)
		}
	}

	if conf.AnchorPolicy == config.AnchorPolicyCAChain && len(v.ed25519Anchors)+len(v.secpAnchors) == 0 {
		return nil, errors.New("ca-chain policy requires at least one trust anchor")
	}
	return v, nil
}

func (v *Verifier) Verify(ctx context.Context, cert domain.Certificate) domain.Verdict {
	if v.policy == config.AnchorPolicyManual {
		if v.approved[cert.Fingerprint] {
			return domain.VerdictConfirmed
		}
		return domain.VerdictAwaiting
	}

	if len(cert.Signature) == 0 {
		return domain.VerdictFailed
	}
	body, err := signingBody(cert)
	if err != nil {
		return domain.VerdictFailed
	}

	if len(cert.Signature) == ed25519.SignatureSize {
		for _, key := range v.ed25519Anchors {
			if ed25519.Verify(key, body, cert.Signature) {
				return domain.VerdictConfirmed
			}
		}
	}

	sig := cert.Signature
	if len(sig) == 65 {
		// Recovery id appended; verification wants the bare (R, S) pair.
		sig = sig[:64]
	}
	if len(sig) == 64 && len(v.secpAnchors) > 0 {
		digest := ethcrypto.Keccak256(body)
		for _, key := range v.secpAnchors {
			if ethcrypto.VerifySignature(key, digest, sig) {
				return domain.VerdictConfirmed
			}
		}
	}
	return domain.VerdictFailed
}

// signingBody reconstructs the bytes the issuer signed from the stored
// canonical serialization.
func signingBody(cert domain.Certificate) ([]byte, error) {
	doc, err := asoc.DecodeBytes([]byte(cert.Raw))
	if err != nil {
		return nil, err
	}
	c, ok := doc.(*asoc.Certificate)
	if !ok {
		return nil, errors.New("stored document is not a certificate")
	}
	return c.SigningBytes(), nil
}
