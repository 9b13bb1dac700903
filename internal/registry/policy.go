package registry

import (
	"fmt"
	"strings"
	"time"
)

// Policy holds the fixed economic and validation constants of a deployment.
// Older registry variants are expressed as restricted policies rather than
// separate types.
type Policy struct {
	// Issuance bonding curve, in native base units.
	FeeBase      uint64 `yaml:"fee_base"`
	FeeIncrement uint64 `yaml:"fee_increment"`
	FeeCap       uint64 `yaml:"fee_cap"`

	// ReissueFee is charged to the reissuing caller and credited to the vault.
	ReissueFee uint64 `yaml:"reissue_fee"`

	// Peer action fees (reward token base units) and score deltas.
	RecommendFee   uint64 `yaml:"recommend_fee"`
	ReportFee      uint64 `yaml:"report_fee"`
	RecommendDelta uint64 `yaml:"recommend_delta"`
	ReportDelta    uint64 `yaml:"report_delta"`

	// RewardAmount is the fixed reward token payout per claim.
	RewardAmount uint64 `yaml:"reward_amount"`

	// ClaimCooldown is the minimum time between claims. Zero disables it.
	ClaimCooldown time.Duration `yaml:"claim_cooldown"`

	// MinRetainedBalance is the native balance the vault must keep.
	MinRetainedBalance uint64 `yaml:"min_retained_balance"`

	// AdminLimit caps the admin set, at most MaxAdmins.
	AdminLimit int `yaml:"admin_limit"`

	// MintSuffix is the vanity suffix every identity mint must carry,
	// compared case-insensitively. Addresses are hex, so only hex digits
	// can match. Empty disables the check.
	MintSuffix string `yaml:"mint_suffix"`

	// MaxHandleLength bounds the handle in bytes, including the sentinel.
	MaxHandleLength int `yaml:"max_handle_length"`

	// Platforms lists the external platforms accepted for SNS links.
	Platforms []string `yaml:"platforms"`
}

// DefaultPolicy returns the policy of the current registry variant.
func DefaultPolicy() Policy {
	return Policy{
		FeeBase:            10_000_000,
		FeeIncrement:       100_000,
		FeeCap:             1_000_000_000,
		ReissueFee:         5_000_000,
		RecommendFee:       100,
		ReportFee:          50,
		RecommendDelta:     10,
		ReportDelta:        20,
		RewardAmount:       1_000,
		ClaimCooldown:      24 * time.Hour,
		MinRetainedBalance: 890_880,
		AdminLimit:         MaxAdmins,
		MaxHandleLength:    60,
		Platforms:          []string{"moltbook", "moltx"},
	}
}

// FlatFeePolicy reproduces the first registry variant: a flat 0.01 issuance
// fee, a single admin and no claim cooldown.
func FlatFeePolicy() Policy {
	p := DefaultPolicy()
	p.FeeIncrement = 0
	p.FeeCap = p.FeeBase
	p.AdminLimit = 1
	p.ClaimCooldown = 0
	return p
}

// Validate reports the first inconsistent field.
func (p Policy) Validate() error {
	if p.FeeCap < p.FeeBase {
		return fmt.Errorf("policy: fee_cap %d below fee_base %d", p.FeeCap, p.FeeBase)
	}
	if p.AdminLimit < 1 || p.AdminLimit > MaxAdmins {
		return fmt.Errorf("policy: admin_limit must be in [1,%d], got %d", MaxAdmins, p.AdminLimit)
	}
	if p.MaxHandleLength < 2 {
		return fmt.Errorf("policy: max_handle_length must be at least 2, got %d", p.MaxHandleLength)
	}
	if p.ClaimCooldown < 0 {
		return fmt.Errorf("policy: negative claim_cooldown")
	}
	for _, c := range strings.ToLower(p.MintSuffix) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("policy: mint_suffix %q is not hex", p.MintSuffix)
		}
	}
	for _, pl := range p.Platforms {
		if pl == "" || strings.ToLower(pl) != pl {
			return fmt.Errorf("policy: platform %q must be lowercase and non-empty", pl)
		}
	}
	return nil
}

// SupportsPlatform reports whether platform may be linked.
func (p Policy) SupportsPlatform(platform string) bool {
	for _, pl := range p.Platforms {
		if pl == platform {
			return true
		}
	}
	return false
}

// ValidMint reports whether mint carries the configured vanity suffix.
func (p Policy) ValidMint(mint Address) bool {
	if _, err := ParseAddress(string(mint)); err != nil {
		return false
	}
	if p.MintSuffix == "" {
		return true
	}
	return strings.HasSuffix(string(mint), strings.ToLower(p.MintSuffix))
}

// ValidHandle reports whether handle is the sentinel '@' followed by one or
// more lowercase letters or digits, within MaxHandleLength bytes.
func (p Policy) ValidHandle(handle string) bool {
	if len(handle) < 2 || len(handle) > p.MaxHandleLength || handle[0] != '@' {
		return false
	}
	for i := 1; i < len(handle); i++ {
		c := handle[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
