// Package evm checks EIP-3009 transferWithAuthorization payloads locally,
// before the facilitator is asked to verify or settle them.
package evm

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Reason codes reported for failed prechecks. They follow the facilitator's
// invalidReason vocabulary so clients see one set of codes.
const (
	ReasonInvalidPayload     = "invalid_payload"
	ReasonInvalidSignature   = "invalid_exact_evm_payload_signature"
	ReasonRecipientMismatch  = "invalid_exact_evm_payload_recipient_mismatch"
	ReasonInsufficientValue  = "invalid_exact_evm_payload_authorization_value"
	ReasonNotYetValid        = "invalid_exact_evm_payload_authorization_valid_after"
	ReasonExpired            = "invalid_exact_evm_payload_authorization_valid_before"
	ReasonUnsupportedNetwork = "invalid_network"
)

var transferTypeHash = crypto.Keccak256Hash([]byte(
	"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
))

var domainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
))

// Payload is the exact-scheme EVM payload carried inside an x402 payment.
type Payload struct {
	Signature     string         `json:"signature"`
	Authorization *Authorization `json:"authorization"`
}

// Authorization holds the EIP-3009 parameters. Numeric fields are decimal
// strings on the wire.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Domain identifies the token contract the authorization is signed for.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// Expectation is what the resource server requires of an authorization.
type Expectation struct {
	PayTo  common.Address
	Amount *big.Int
	Domain Domain
	Now    time.Time
}

// CheckError is a precheck rejection carrying a reason code.
type CheckError struct {
	Reason string
	Detail string
}

func (e *CheckError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

func reject(reason, format string, args ...any) error {
	return &CheckError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ChainID parses the reference of a CAIP-2 eip155 network ("eip155:10143").
func ChainID(network string) (*big.Int, error) {
	ref, ok := strings.CutPrefix(network, "eip155:")
	if !ok || ref == "" {
		return nil, fmt.Errorf("not an eip155 network: %q", network)
	}
	n, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad chain id in %q: %w", network, err)
	}
	return new(big.Int).SetUint64(n), nil
}

// Check validates p against exp. It returns a *CheckError on rejection and
// the recovered payer on success.
func Check(p *Payload, exp Expectation) (common.Address, error) {
	if p == nil || p.Authorization == nil {
		return common.Address{}, reject(ReasonInvalidPayload, "missing authorization")
	}
	a := p.Authorization
	if !common.IsHexAddress(a.From) || !common.IsHexAddress(a.To) {
		return common.Address{}, reject(ReasonInvalidPayload, "bad from/to address")
	}
	value, validAfter, validBefore, nonce, err := a.parse()
	if err != nil {
		return common.Address{}, reject(ReasonInvalidPayload, "%v", err)
	}

	if common.HexToAddress(a.To) != exp.PayTo {
		return common.Address{}, reject(ReasonRecipientMismatch, "to %s", a.To)
	}
	if value.Cmp(exp.Amount) < 0 {
		return common.Address{}, reject(ReasonInsufficientValue, "value %s < %s", value, exp.Amount)
	}
	now := big.NewInt(exp.Now.Unix())
	if now.Cmp(validAfter) < 0 {
		return common.Address{}, reject(ReasonNotYetValid, "validAfter %s", validAfter)
	}
	if now.Cmp(validBefore) >= 0 {
		return common.Address{}, reject(ReasonExpired, "validBefore %s", validBefore)
	}

	sig, err := hexutil.Decode(p.Signature)
	if err != nil || len(sig) != 65 {
		return common.Address{}, reject(ReasonInvalidSignature, "signature must be 65 bytes of 0x-hex")
	}
	digest := Digest(exp.Domain, common.HexToAddress(a.From), exp.PayTo, value, validAfter, validBefore, nonce)
	signer, err := recoverSigner(digest, sig)
	if err != nil {
		return common.Address{}, reject(ReasonInvalidSignature, "%v", err)
	}
	if signer != common.HexToAddress(a.From) {
		return common.Address{}, reject(ReasonInvalidSignature, "signer %s is not from", signer.Hex())
	}
	return signer, nil
}

// parse decodes the numeric fields as uint256 and the nonce as bytes32.
func (a *Authorization) parse() (value, validAfter, validBefore *big.Int, nonce [32]byte, err error) {
	if value, err = parseUint256("value", a.Value); err != nil {
		return
	}
	if validAfter, err = parseUint256("validAfter", a.ValidAfter); err != nil {
		return
	}
	if validBefore, err = parseUint256("validBefore", a.ValidBefore); err != nil {
		return
	}
	b, derr := hexutil.Decode(a.Nonce)
	if derr != nil || len(b) != 32 {
		err = errors.New("nonce must be 32 bytes of 0x-hex")
		return
	}
	copy(nonce[:], b)
	return
}

func parseUint256(field, s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return nil, fmt.Errorf("%s %q is not a uint256", field, s)
	}
	return n, nil
}

// IsCheckError reports whether err is a precheck rejection and returns it.
func IsCheckError(err error) (*CheckError, bool) {
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func domainSeparator(d Domain) [32]byte {
	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	// abi.encode(bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	d.ChainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], d.VerifyingContract.Bytes())

	return crypto.Keccak256Hash(encoded)
}

// Digest is the EIP-712 hash the payer signs for transferWithAuthorization.
func Digest(d Domain, from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) [32]byte {
	encoded := make([]byte, 7*32)
	copy(encoded[0:32], transferTypeHash[:])
	copy(encoded[44:64], from.Bytes())
	copy(encoded[76:96], to.Bytes())
	value.FillBytes(encoded[96:128])
	validAfter.FillBytes(encoded[128:160])
	validBefore.FillBytes(encoded[160:192])
	copy(encoded[192:224], nonce[:])

	structHash := crypto.Keccak256Hash(encoded)
	sep := domainSeparator(d)

	// keccak256(0x1901 || domainSeparator || structHash)
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

func recoverSigner(digest [32]byte, sig []byte) (common.Address, error) {
	// Normalize V: wallets sign with 27/28, ecrecover expects 0/1
	sigCopy := make([]byte, 65)
	copy(sigCopy, sig)
	if sigCopy[64] >= 27 {
		sigCopy[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sigCopy)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces a 65-byte signature (V in {27,28}) over the authorization.
// Used by clients and tests.
func Sign(d Domain, a *Authorization, key *ecdsa.PrivateKey) (string, error) {
	value, validAfter, validBefore, nonce, err := a.parse()
	if err != nil {
		return "", err
	}
	digest := Digest(d, common.HexToAddress(a.From), common.HexToAddress(a.To), value, validAfter, validBefore, nonce)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return "", err
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}
