package scheme

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-x402-gate/internal/nullifier"
)

var validate = validator.New()

type redemptionFields struct {
	Commitment string `validate:"required,len=64,hexadecimal"`
	Nullifier  string `validate:"required,len=64,hexadecimal"`
	Secret     string `validate:"required,len=64,hexadecimal"`
}

// Redemption checks commitment/nullifier proofs locally. Acceptance consumes
// the nullifier; nothing about the payer is recorded.
type Redemption struct {
	store nullifier.Store
	log   *zap.Logger
}

var _ Scheme = (*Redemption)(nil)

func NewRedemption(store nullifier.Store, log *zap.Logger) *Redemption {
	return &Redemption{store: store, log: log}
}

func (s *Redemption) Kind() Kind { return KindCommitment }

// Supports is true for every network: redemption never touches a chain.
func (s *Redemption) Supports(string) bool { return true }

// Verify validates the fields, checks the commitment and only then consumes
// the nullifier. A mismatching proof leaves the nullifier usable.
func (s *Redemption) Verify(ctx context.Context, req *Requirement, proof Proof) (*Result, error) {
	p, ok := proof.(*RedemptionProof)
	if !ok {
		return nil, fmt.Errorf("%w: redemption scheme got %T", ErrInternal, proof)
	}
	if err := ValidateRedemption(p); err != nil {
		return reject(ReasonMissingField), nil
	}

	if !strings.EqualFold(normalizeHex(p.Commitment), Commit(p.Secret, p.Nullifier)) {
		return reject(ReasonCommitmentMismatch), nil
	}

	consumed, err := s.store.TryConsume(ctx, normalizeHex(p.Nullifier))
	if err != nil {
		return nil, fmt.Errorf("%w: consume nullifier: %w", ErrInternal, err)
	}
	if !consumed {
		s.log.Info("nullifier replay",
			zap.String("resource", req.ResourceID),
			zap.String("nullifier", ShortNullifier(p.Nullifier)),
		)
		return reject(ReasonNullifierReplay), nil
	}
	return accept("", "", ""), nil
}

// ValidateRedemption checks that all three fields are 32-byte hex values.
func ValidateRedemption(p *RedemptionProof) error {
	return validate.Struct(redemptionFields{
		Commitment: normalizeHex(p.Commitment),
		Nullifier:  normalizeHex(p.Nullifier),
		Secret:     normalizeHex(p.Secret),
	})
}

// Commit returns hex(sha256(secret + nullifier)), hashing the hex text as
// given.
func Commit(secret, nullifier string) string {
	sum := sha256.Sum256([]byte(secret + nullifier))
	return hex.EncodeToString(sum[:])
}

// NewIntent generates a fresh secret and nullifier and their commitment.
func NewIntent() (*RedemptionProof, error) {
	secret, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	null, err := randomHex(32)
	if err != nil {
		return nil, err
	}
	return &RedemptionProof{
		Commitment: Commit(secret, null),
		Nullifier:  null,
		Secret:     secret,
	}, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func normalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strings.ToLower(s)
}
