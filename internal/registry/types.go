// Package registry implements the Nebulon identity and reputation ledger: one
// non-transferable identity per agent, a bonding-curve issuance fee feeding a
// shared pool, admin-managed score and tier, and fee-gated peer recommend and
// report actions verified against identity proofs.
//
// Every operation runs as a single Store.Update transaction. Validation and
// authority checks happen inside the transaction before any mutation, so a
// returned error always means nothing was written.
package registry

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Schema versions of the stored records. Reissuance migrates a lineage to
// CurrentSchemaVersion.
const (
	SchemaV1 = 1 // single admin, flat fee, handle only
	SchemaV2 = 2 // admin set, tiers, hex id
	SchemaV3 = 3 // sns links, private vault, peer actions

	CurrentSchemaVersion = SchemaV3
)

// Tier bounds. DeadzoneTier is assigned at issuance and is never eligible
// for rewards.
const (
	MinTier      = 1
	MaxTier      = 10
	DeadzoneTier = 10
)

// AddressSize is the byte length of an Address.
const AddressSize = 32

// Address identifies a key holder or a derived program account. It is the
// lowercase hex encoding of 32 bytes.
type Address string

// ParseAddress validates s and returns it as an Address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != AddressSize*2 || strings.ToLower(s) != s {
		return "", ErrInvalidAddress
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", ErrInvalidAddress
	}
	return Address(s), nil
}

// AddressFromKey encodes a 32-byte public key as an Address.
func AddressFromKey(key []byte) (Address, error) {
	if len(key) != AddressSize {
		return "", ErrInvalidAddress
	}
	return Address(hex.EncodeToString(key)), nil
}

// String returns the address text.
func (a Address) String() string { return string(a) }

// Short returns the first 8 hex characters, for logs.
func (a Address) Short() string {
	if len(a) < 8 {
		return string(a)
	}
	return string(a[:8])
}

// HexIDSize is the fixed length of an opaque identifier.
const HexIDSize = 512

// HexID is the fixed-size opaque identifier bound to an identity at issuance.
type HexID [HexIDSize]byte

// ParseHexID decodes a hex string of exactly HexIDSize bytes.
func ParseHexID(s string) (HexID, error) {
	var id HexID
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != HexIDSize {
		return id, ErrInvalidHexID
	}
	copy(id[:], b)
	return id, nil
}

// String returns the hex encoding of the identifier.
func (h HexID) String() string { return hex.EncodeToString(h[:]) }

// MarshalJSON encodes the identifier as a hex string.
func (h HexID) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string of exactly HexIDSize bytes.
func (h *HexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("hex id: %w", err)
	}
	id, err := ParseHexID(s)
	if err != nil {
		return err
	}
	*h = id
	return nil
}

// Asset names a balance kind in the token ledger.
type Asset string

// AssetNative is the ledger's native currency, used for issuance fees.
const AssetNative Asset = "native"

// TokenAsset returns the asset for a fungible token identified by its mint.
func TokenAsset(mint Address) Asset {
	return Asset("token:" + string(mint))
}

// ParseAsset accepts "native" or "token:<address>".
func ParseAsset(s string) (Asset, error) {
	if Asset(s) == AssetNative {
		return AssetNative, nil
	}
	mint, ok := strings.CutPrefix(s, "token:")
	if !ok {
		return "", fmt.Errorf("registry: unknown asset %q", s)
	}
	a, err := ParseAddress(mint)
	if err != nil {
		return "", err
	}
	return TokenAsset(a), nil
}

// Registry is the singleton aggregate. It is created once and never deleted.
type Registry struct {
	SchemaVersion     int      `json:"schema_version"`
	Owner             Address  `json:"owner"`
	Admins            AdminSet `json:"admins"`
	RewardToken       Address  `json:"reward_token"`
	Vault             Address  `json:"vault"`
	TotalAgents       uint64   `json:"total_agents"`
	TotalScore        uint64   `json:"total_score"`
	MinScoreThreshold uint64   `json:"min_score_threshold"`
	CreatedAt         int64    `json:"created_at"`
}

// RewardAsset returns the token asset used for rewards and peer-action fees.
func (r *Registry) RewardAsset() Asset {
	return TokenAsset(r.RewardToken)
}

// Identity is one version of an agent's identity record. Handle and HexID
// never change across versions; a reissuance writes Version+1 and marks the
// previous version inactive.
type Identity struct {
	Handle             string            `json:"handle"`
	Version            uint32            `json:"version"`
	SchemaVersion      int               `json:"schema_version"`
	Owner              Address           `json:"owner"`
	Mint               Address           `json:"mint"`
	Name               string            `json:"name"`
	HexID              HexID             `json:"hex_id"`
	Score              uint64            `json:"score"`
	Tier               uint8             `json:"tier"`
	IsActive           bool              `json:"is_active"`
	URI                string            `json:"uri"`
	PublicData         string            `json:"public_data"`
	LastClaimTimestamp int64             `json:"last_claim_timestamp"`
	CreatedAt          int64             `json:"created_at"`
	SNS                map[string]string `json:"sns"`
	PrivateVault       []byte            `json:"private_vault"`
	Recommendations    uint64            `json:"recommendations"`
	Reports            uint64            `json:"reports"`
}

// Clone returns a deep copy of the identity.
func (id *Identity) Clone() *Identity {
	c := *id
	c.SNS = make(map[string]string, len(id.SNS))
	for k, v := range id.SNS {
		c.SNS[k] = v
	}
	if id.PrivateVault != nil {
		c.PrivateVault = append([]byte(nil), id.PrivateVault...)
	}
	return &c
}

// Event types emitted by committed operations.
const (
	EventRegistryInitialized = "registry_initialized"
	EventAdminAdded          = "admin_added"
	EventAdminRemoved        = "admin_removed"
	EventIdentityIssued      = "identity_issued"
	EventIdentityReissued    = "identity_reissued"
	EventStatusUpdated       = "status_updated"
	EventSNSUpdated          = "sns_updated"
	EventPrivateDataUpdated  = "private_data_updated"
	EventPublicDataUpdated   = "public_data_updated"
	EventRewardsClaimed      = "rewards_claimed"
	EventCurrencyWithdrawn   = "currency_withdrawn"
	EventTokensWithdrawn     = "tokens_withdrawn"
	EventRecommended         = "recommended"
	EventReported            = "reported"
	EventDeposited           = "deposited"
)

// Event is an append-only record of a committed operation.
type Event struct {
	Seq    uint64  `json:"seq"`
	Type   string  `json:"type"`
	Actor  Address `json:"actor"`
	Handle string  `json:"handle,omitempty"`
	Target Address `json:"target,omitempty"`
	Amount uint64  `json:"amount,omitempty"`
	Score  uint64  `json:"score,omitempty"`
	Tier   uint8   `json:"tier,omitempty"`
	At     int64   `json:"at"`
}
