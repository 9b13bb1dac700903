package registry

import "sort"

// TierInfo describes one reputation tier.
type TierInfo struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
	// TopPercentile is the highest rank percentile that still lands in this
	// tier.
	TopPercentile float64 `json:"top_percentile"`
	// RewardShare is the share of the pool the tier is meant to receive, in
	// percent. Claims currently pay a fixed amount regardless of share.
	RewardShare float64 `json:"reward_share"`
	MetadataURI string  `json:"metadata_uri"`
}

// Tiers is the tier table, best first. Tier 10 is the deadzone.
var Tiers = []TierInfo{
	{1, "Nebula Prime", 5, 30.0, "https://ipfs.io/ipfs/QmYY1Dx83eZZFK5jYHfmoG8bCcZzJV5tndFxBkqR1qtTBS"},
	{2, "Supernova", 10, 20.0, "https://ipfs.io/ipfs/QmWnEPKLpACtaQzR99PSBReMgGTz4aSg2aYfcycLAWbaoE"},
	{3, "Quasar", 20, 15.0, "https://ipfs.io/ipfs/QmZeEzNvi2KzabVY6H8gpMJqe12yMDFaFw8xpVf6WcCcQK"},
	{4, "Pulsar", 30, 9.5, "https://ipfs.io/ipfs/QmZR9kEMwKPCZ5tiDBEfGmy1ow2DqQv7o3JmXc7WLKn8pQ"},
	{5, "Stellar", 45, 8.5, "https://ipfs.io/ipfs/QmSqnQEfpuroog6VmLrx1byFGjGQdhR6z1pQVzRjAK2Bdx"},
	{6, "Orbit", 60, 5.0, "https://ipfs.io/ipfs/QmYr4SpuTR8N3meZC3UpJkpK1yM2ZxxSG62rZYjGqSsYdg"},
	{7, "Satellite", 80, 5.0, "https://ipfs.io/ipfs/QmeR1xvuMBdNXiQpLhyWwZSAi2jss9V5EqPjdJeU2h55vm"},
	{8, "Drift", 90, 5.0, "https://ipfs.io/ipfs/QmbRRi252mYmpTpBLvWGhAP9Z93CEXXhzfFMLm29jyix7S"},
	{9, "Void", 99, 2.0, "https://ipfs.io/ipfs/QmfEiQSGBY447aSU1panm9EbuSufaJ2GQ6nmRUDuobMPLG"},
	{10, "Deadzone", 100, 0.0, "https://ipfs.io/ipfs/QmVdjCRYhQSo8MQzAviNqotPu5PA7EXt75JQRcfgKZSSHT"},
}

// TierByID returns the table entry for id.
func TierByID(id uint8) (TierInfo, bool) {
	if id < MinTier || id > MaxTier {
		return TierInfo{}, false
	}
	return Tiers[id-1], true
}

// RankEntry is one identity's input to RankTiers.
type RankEntry struct {
	Handle string
	Score  uint64
}

// TierAssignment is RankTiers output for one identity.
type TierAssignment struct {
	Handle     string  `json:"handle"`
	Score      uint64  `json:"score"`
	Rank       int     `json:"rank"`
	Percentile float64 `json:"percentile"`
	Tier       uint8   `json:"tier"`
}

// RankTiers orders entries by score (highest first, ties by handle) and
// assigns each the first tier whose TopPercentile covers its rank
// percentile.
func RankTiers(entries []RankEntry) []TierAssignment {
	sorted := append([]RankEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Handle < sorted[j].Handle
	})

	out := make([]TierAssignment, len(sorted))
	total := float64(len(sorted))
	for i, e := range sorted {
		pct := float64(i+1) / total * 100
		tier := uint8(DeadzoneTier)
		for _, t := range Tiers {
			if pct <= t.TopPercentile {
				tier = t.ID
				break
			}
		}
		out[i] = TierAssignment{Handle: e.Handle, Score: e.Score, Rank: i + 1, Percentile: pct, Tier: tier}
	}
	return out
}
