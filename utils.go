package aquarius

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const DIDPrefix = "did:op:"

// DIDFromAddress derives the canonical DID for a datatoken address:
// did:op: followed by the hex keccak-256 of the address bytes.
func DIDFromAddress(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid datatoken address: %s", address)
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(common.HexToAddress(address).Bytes())
	return DIDPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// IsDID reports whether s has the did:op:<64 hex> shape.
func IsDID(s string) bool {
	if !strings.HasPrefix(s, DIDPrefix) {
		return false
	}
	body := s[len(DIDPrefix):]
	if len(body) != 64 {
		return false
	}
	_, err := hex.DecodeString(body)
	return err == nil
}

// MetadataService returns the metadata entry of a service list, or nil.
func MetadataService(services []Service) *Service {
	for i := range services {
		if services[i].Type == ServiceTypeMetadata {
			return &services[i]
		}
	}
	return nil
}

// TokenAddress resolves the on-chain linkage of a record. Prefers
// dataTokenInfo.address and falls back to the top-level dataToken field.
func (r *Record) TokenAddress() (string, error) {
	addr := r.DataToken
	if r.DataTokenInfo != nil && r.DataTokenInfo.Address != "" {
		addr = r.DataTokenInfo.Address
	}
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("record %s has no resolvable datatoken address", r.ID)
	}
	return common.HexToAddress(addr).Hex(), nil
}
