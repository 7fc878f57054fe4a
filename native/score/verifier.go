package score

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"crediflow/native/common"
)

var (
	// ErrScoreNotFound marks subjects without a stored report.
	ErrScoreNotFound = errors.New("score verifier: score not found")
	// ErrScoreExpired marks reports whose validity window has elapsed.
	ErrScoreExpired = errors.New("score verifier: score expired")
	// ErrSignatureInvalid marks reports whose signature does not recover to
	// the trusted signer.
	ErrSignatureInvalid = errors.New("score verifier: signature invalid")

	errNilStore    = errors.New("score verifier: storage not configured")
	errSignerUnset = errors.New("score verifier: trusted signer not configured")
	errSignerZero  = errors.New("score verifier: trusted signer must not be zero")
	errNilReport   = errors.New("score verifier: report required")
	errNoSignature = errors.New("score verifier: report signature required")
)

// storage abstracts the subset of state manager functionality required by the
// verifier.
type storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	reportPrefix = []byte("score/report/")
	signerKey    = []byte("score/signer")
)

func reportKey(subject [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", reportPrefix, subject))
}

type storedReport struct {
	Subject        []byte `json:"subject"`
	Score          uint16 `json:"score"`
	PDBps          uint16 `json:"pdBps"`
	FeaturesDigest []byte `json:"featuresDigest"`
	Expiry         int64  `json:"expiry"`
	Signature      []byte `json:"signature"`
}

// Verifier validates signed score reports against the configured trusted
// signer. It is a pure read component: acting on a validated score is the
// registry's responsibility.
type Verifier struct {
	store storage
	roles common.RoleView
	nowFn func() int64
}

// NewVerifier constructs a verifier bound to the provided storage backend.
func NewVerifier(store storage) *Verifier {
	return &Verifier{
		store: store,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetRoles wires the role membership view used for admin gating.
func (v *Verifier) SetRoles(roles common.RoleView) {
	if v == nil {
		return
	}
	v.roles = roles
}

// SetNowFunc overrides the wall clock used for expiry checks. Primarily
// leveraged in tests to provide deterministic timestamps.
func (v *Verifier) SetNowFunc(now func() int64) {
	if v == nil {
		return
	}
	if now == nil {
		v.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	v.nowFn = now
}

func (v *Verifier) now() int64 {
	if v == nil || v.nowFn == nil {
		return time.Now().Unix()
	}
	return v.nowFn()
}

// SetTrustedSigner rotates the signer subsequent verifications are checked
// against. The rotation is admin-gated and is not retroactive: previously
// consumed scores are unaffected.
func (v *Verifier) SetTrustedSigner(caller, signer [20]byte) error {
	if v == nil || v.store == nil {
		return errNilStore
	}
	if err := common.RequireRole(v.roles, common.RoleAdmin, caller); err != nil {
		return err
	}
	if signer == ([20]byte{}) {
		return errSignerZero
	}
	return v.store.KVPut(signerKey, hex.EncodeToString(signer[:]))
}

// TrustedSigner returns the currently configured signer.
func (v *Verifier) TrustedSigner() ([20]byte, error) {
	if v == nil || v.store == nil {
		return [20]byte{}, errNilStore
	}
	var encoded string
	ok, err := v.store.KVGet(signerKey, &encoded)
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, errSignerUnset
	}
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != 20 {
		return [20]byte{}, errSignerUnset
	}
	var signer [20]byte
	copy(signer[:], raw)
	return signer, nil
}

// PutReport stores the latest report for its subject, superseding any earlier
// one. The payload must be well formed and carry a signature; signature
// validity itself is checked lazily at read time so that signer rotation is
// never retroactive.
func (v *Verifier) PutReport(report *Report) error {
	if v == nil || v.store == nil {
		return errNilStore
	}
	if report == nil {
		return errNilReport
	}
	if err := report.Validate(); err != nil {
		return err
	}
	if len(report.Signature) == 0 {
		return errNoSignature
	}
	stored := storedReport{
		Subject:        append([]byte(nil), report.Subject[:]...),
		Score:          report.Score,
		PDBps:          report.PDBps,
		FeaturesDigest: append([]byte(nil), report.FeaturesDigest[:]...),
		Expiry:         report.Expiry,
		Signature:      append([]byte(nil), report.Signature...),
	}
	return v.store.KVPut(reportKey(report.Subject), stored)
}

// GetValidScore fetches the latest report for subject and validates it. The
// returned report is a defensive copy. No state is mutated.
func (v *Verifier) GetValidScore(subject [20]byte) (*Report, error) {
	if v == nil || v.store == nil {
		return nil, errNilStore
	}
	var stored storedReport
	ok, err := v.store.KVGet(reportKey(subject), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScoreNotFound
	}
	report := &Report{
		Score:     stored.Score,
		PDBps:     stored.PDBps,
		Expiry:    stored.Expiry,
		Signature: append([]byte(nil), stored.Signature...),
	}
	copy(report.Subject[:], stored.Subject)
	copy(report.FeaturesDigest[:], stored.FeaturesDigest)
	if report.Subject != subject {
		return nil, ErrScoreNotFound
	}
	if v.now() > report.Expiry {
		return nil, ErrScoreExpired
	}
	signer, err := v.TrustedSigner()
	if err != nil {
		return nil, err
	}
	recovered, err := report.RecoverSigner()
	if err != nil {
		return nil, err
	}
	if recovered != signer {
		return nil, ErrSignatureInvalid
	}
	return report, nil
}
