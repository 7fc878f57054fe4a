package score

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"crediflow/crypto"
)

// ReportDomainV1 defines the domain separator mixed into every signed score
// report. Reports signed under a different domain never verify.
const ReportDomainV1 = "CFL_SCORE_REPORT_V1"

const (
	// MinScore is the lowest score the attestation producer may emit.
	MinScore = 300
	// MaxScore is the highest score the attestation producer may emit.
	MaxScore = 900
	// MaxPDBps caps the probability of default at 100%.
	MaxPDBps = 10_000
)

// Report captures a signed creditworthiness attestation for a single subject.
// Reports are immutable once issued; a fresh report supersedes any earlier one
// for the same subject.
type Report struct {
	Subject        [20]byte
	Score          uint16
	PDBps          uint16
	FeaturesDigest [32]byte
	Expiry         int64
	Signature      []byte
}

// Clone returns a deep copy of the report.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Signature = append([]byte(nil), r.Signature...)
	return &clone
}

// Validate ensures the report payload is well formed before it is hashed or
// stored. Signature presence is checked separately by the verifier.
func (r *Report) Validate() error {
	if r == nil {
		return errors.New("score: report nil")
	}
	if r.Subject == ([20]byte{}) {
		return errors.New("score: subject required")
	}
	if r.Score < MinScore || r.Score > MaxScore {
		return fmt.Errorf("score: score %d outside [%d,%d]", r.Score, MinScore, MaxScore)
	}
	if r.PDBps > MaxPDBps {
		return fmt.Errorf("score: pd %d exceeds %d bps", r.PDBps, MaxPDBps)
	}
	if r.Expiry <= 0 {
		return errors.New("score: expiry required")
	}
	return nil
}

// CanonicalMessage renders the exact byte sequence covered by the report
// signature: the domain separator followed by every field in a fixed order.
func (r *Report) CanonicalMessage() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	builder := strings.Builder{}
	builder.WriteString(ReportDomainV1)
	builder.WriteString("|subject=")
	builder.WriteString(hex.EncodeToString(r.Subject[:]))
	builder.WriteString("|score=")
	builder.WriteString(fmt.Sprintf("%d", r.Score))
	builder.WriteString("|pd=")
	builder.WriteString(fmt.Sprintf("%d", r.PDBps))
	builder.WriteString("|features=")
	builder.WriteString(hex.EncodeToString(r.FeaturesDigest[:]))
	builder.WriteString("|expiry=")
	builder.WriteString(fmt.Sprintf("%d", r.Expiry))
	return builder.String(), nil
}

// Hash computes the keccak256 digest of the canonical message.
func (r *Report) Hash() ([]byte, error) {
	message, err := r.CanonicalMessage()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256([]byte(message)), nil
}

// Sign attaches a recoverable signature over the canonical digest. Used by the
// attestation producer and by tests; the engine itself only verifies.
func (r *Report) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return errors.New("score: signing key required")
	}
	digest, err := r.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// RecoverSigner returns the address that produced the report signature.
func (r *Report) RecoverSigner() ([20]byte, error) {
	if r == nil || len(r.Signature) == 0 {
		return [20]byte{}, ErrSignatureInvalid
	}
	digest, err := r.Hash()
	if err != nil {
		return [20]byte{}, err
	}
	pubKey, err := ethcrypto.SigToPub(digest, r.Signature)
	if err != nil {
		return [20]byte{}, ErrSignatureInvalid
	}
	var recovered [20]byte
	copy(recovered[:], ethcrypto.PubkeyToAddress(*pubKey).Bytes())
	return recovered, nil
}
