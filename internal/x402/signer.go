package x402

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"AgentPay-Gate/internal/chains"
	xerrors "AgentPay-Gate/internal/errors"
	"AgentPay-Gate/internal/vault"
)

// ErrMissingTokenMetadata indicates the requirement lacks the token name and
// version needed to build the signing domain.
var ErrMissingTokenMetadata = xerrors.New(xerrors.CodeMissingTokenMeta, "")

// defaultWindowSeconds bounds the validity window when the counterparty
// specifies no timeout.
const defaultWindowSeconds int64 = 60

// transferWithAuthorizationTypes is the fixed ERC-3009 type schema. The field
// order is part of the signature; never reorder.
var transferWithAuthorizationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// Signer builds and signs transfer authorizations with the vault's key.
type Signer struct {
	vault    *vault.Vault
	registry *chains.Registry
	now      func() time.Time
}

// NewSigner wires a signer to the key vault and chain registry.
func NewSigner(v *vault.Vault, registry *chains.Registry) *Signer {
	if registry == nil {
		registry = chains.NewRegistry()
	}
	return &Signer{vault: v, registry: registry, now: time.Now}
}

// Sign constructs the canonical authorization for the requirement and signs
// it as EIP-712 typed data. validFor requests a validity window; the
// counterparty's MaxTimeoutSeconds always caps it. A zero validFor uses the
// cap directly.
func (s *Signer) Sign(req *PaymentRequirement, validFor time.Duration) (*PaymentPayload, error) {
	if req == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "requirement is nil")
	}
	if req.Extra == nil || req.Extra.Name == "" || req.Extra.Version == "" {
		return nil, ErrMissingTokenMetadata
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key, err := s.vault.PrivateKey()
	if err != nil {
		return nil, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	chainID, ok := s.registry.ChainID(req.Network)
	if !ok {
		return nil, ErrNoSupportedRequirement
	}

	window := req.MaxTimeoutSeconds
	if window <= 0 {
		window = defaultWindowSeconds
	}
	if requested := int64(validFor / time.Second); requested > 0 && requested < window {
		window = requested
	}

	now := s.now().Unix()
	auth := Authorization{
		From:        from.Hex(),
		To:          common.HexToAddress(req.PayTo).Hex(),
		Value:       req.MaxAmountRequired,
		ValidAfter:  strconv.FormatInt(now-1, 10),
		ValidBefore: strconv.FormatInt(now+window, 10),
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigningFailure, err, "draw authorization nonce")
	}
	auth.Nonce = hexutil.Encode(nonce)

	typedData := apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              req.Extra.Name,
			Version:           req.Extra.Version,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: common.HexToAddress(req.Asset).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigningFailure, err, "hash typed data")
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSigningFailure, err, "sign typed data")
	}
	// Ethereum signatures carry V as 27/28 on the wire.
	sig[64] += 27

	return &PaymentPayload{
		X402Version: ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     req.Network,
		Payload: ExactPayload{
			Signature:     hexutil.Encode(sig),
			Authorization: auth,
		},
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	if now != nil {
		s.now = now
	}
	return s
}

// VerifySignature recovers the signer of an envelope and checks it matches
// the authorization's from address. Used by tests and by callers that want a
// sanity check before transmitting.
func VerifySignature(req *PaymentRequirement, payload *PaymentPayload, registry *chains.Registry) error {
	if req == nil || payload == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "nil requirement or payload")
	}
	if req.Extra == nil {
		return ErrMissingTokenMetadata
	}
	if registry == nil {
		registry = chains.NewRegistry()
	}
	chainID, ok := registry.ChainID(req.Network)
	if !ok {
		return ErrNoSupportedRequirement
	}

	auth := payload.Payload.Authorization
	typedData := apitypes.TypedData{
		Types:       transferWithAuthorizationTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              req.Extra.Name,
			Version:           req.Extra.Version,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: common.HexToAddress(req.Asset).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       auth.Value,
			"validAfter":  auth.ValidAfter,
			"validBefore": auth.ValidBefore,
			"nonce":       auth.Nonce,
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSigningFailure, err, "hash typed data")
	}

	sig, err := hexutil.Decode(payload.Payload.Signature)
	if err != nil || len(sig) != 65 {
		return xerrors.New(xerrors.CodeInvalidArgument, "malformed signature")
	}
	recovery := make([]byte, 65)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}
	pub, err := crypto.SigToPub(digest, recovery)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "recover signer")
	}
	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != common.HexToAddress(auth.From) {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("signature recovers %s, authorization names %s", recovered.Hex(), auth.From))
	}
	return nil
}
