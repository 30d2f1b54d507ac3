package service

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"github.com/oceanprotocol/aquarius/internal/domain"
)

var tracer = otel.Tracer("auth")

// AuthService recovers signer addresses from EIP-191 personal-sign
// signatures and checks the configured updater allow-list.
type AuthService struct {
	allowed map[string]struct{}
}

func NewAuthService(allowedUpdaters []string) *AuthService {
	allowed := make(map[string]struct{}, len(allowedUpdaters))
	for _, a := range allowedUpdaters {
		allowed[strings.ToLower(a)] = struct{}{}
	}
	return &AuthService{allowed: allowed}
}

// RecoverSigner recovers the address that signed the given address
// string as a personal-sign message.
func (s *AuthService) RecoverSigner(address string, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", errors.Wrap(err, "undecodable signature")
	}
	if len(sig) != crypto.SignatureLength {
		return "", errors.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}

	// geth returns V as 27/28 from eth_sign
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte{}, sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := accounts.TextHash([]byte(address))
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return "", errors.Wrap(err, "signature recovery failed")
	}

	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

func (s *AuthService) IsPermittedUpdater(address string) bool {
	if !common.IsHexAddress(address) {
		return false
	}
	_, ok := s.allowed[strings.ToLower(address)]
	return ok
}

// Authorize applies the admin write rule: the supplied address must be
// allow-listed and the signature must recover to it, compared
// case-insensitively. Loopback callers skip this entirely.
func (s *AuthService) Authorize(ctx context.Context, address string, signature string) error {
	_, span := tracer.Start(ctx, "Auth.Service.Authorize")
	defer span.End()

	if address == "" || !s.IsPermittedUpdater(address) {
		err := domain.UnauthorizedError{Reason: "address not permitted"}
		span.RecordError(err)
		return err
	}

	if signature == "" {
		err := domain.UnauthorizedError{Reason: "missing signature"}
		span.RecordError(err)
		return err
	}

	recovered, err := s.RecoverSigner(address, signature)
	if err != nil {
		span.RecordError(errors.Wrap(err, "signer recovery failed"))
		return domain.UnauthorizedError{Reason: "signer recovery failed"}
	}

	if !strings.EqualFold(recovered, address) {
		err := domain.UnauthorizedError{Reason: "signer mismatch"}
		span.RecordError(err)
		return err
	}

	return nil
}
