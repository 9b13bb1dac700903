package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

// identity mirrors the server's public identity view.
type identity struct {
	Handle          string            `json:"handle"`
	Version         uint32            `json:"version"`
	Owner           string            `json:"owner"`
	Mint            string            `json:"mint"`
	Name            string            `json:"name"`
	Score           uint64            `json:"score"`
	Tier            uint8             `json:"tier"`
	TierName        string            `json:"tier_name"`
	IsActive        bool              `json:"is_active"`
	URI             string            `json:"uri"`
	PublicData      string            `json:"public_data"`
	SNS             map[string]string `json:"sns"`
	HasPrivateData  bool              `json:"has_private_data"`
	Recommendations uint64            `json:"recommendations"`
	Reports         uint64            `json:"reports"`
}

// ranked mirrors one tier calculation or leaderboard row.
type ranked struct {
	Handle     string  `json:"handle"`
	Score      uint64  `json:"score"`
	Rank       int     `json:"rank"`
	Percentile float64 `json:"percentile"`
	Tier       uint8   `json:"tier"`
	TierName   string  `json:"tier_name"`
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}

func printIdentity(w io.Writer, id *identity) {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	rows := [][]string{
		{"Handle", id.Handle},
		{"Version", strconv.FormatUint(uint64(id.Version), 10)},
		{"Name", id.Name},
		{"Owner", id.Owner},
		{"Mint", id.Mint},
		{"Active", strconv.FormatBool(id.IsActive)},
		{"Score", strconv.FormatUint(id.Score, 10)},
		{"Tier", fmt.Sprintf("%d (%s)", id.Tier, id.TierName)},
		{"URI", id.URI},
		{"Recommended", strconv.FormatUint(id.Recommendations, 10)},
		{"Reported", strconv.FormatUint(id.Reports, 10)},
	}
	platforms := make([]string, 0, len(id.SNS))
	for p := range id.SNS {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	for _, p := range platforms {
		rows = append(rows, []string{"Link " + p, id.SNS[p]})
	}
	if id.PublicData != "" {
		rows = append(rows, []string{"Public data", id.PublicData})
	}
	table.AppendBulk(rows)
	table.Render()
}

func printIdentities(w io.Writer, ids []identity) {
	table := newTable(w, "Handle", "Version", "Name", "Score", "Tier", "Active", "Owner")
	for _, id := range ids {
		table.Append([]string{
			id.Handle,
			strconv.FormatUint(uint64(id.Version), 10),
			id.Name,
			strconv.FormatUint(id.Score, 10),
			id.TierName,
			strconv.FormatBool(id.IsActive),
			registry.Address(id.Owner).Short(),
		})
	}
	table.Render()
}

func printRanked(w io.Writer, rows []ranked) {
	table := newTable(w, "Rank", "Handle", "Score", "Percentile", "Tier")
	for _, r := range rows {
		table.Append([]string{
			strconv.Itoa(r.Rank),
			r.Handle,
			strconv.FormatUint(r.Score, 10),
			strconv.FormatFloat(r.Percentile, 'f', 2, 64),
			fmt.Sprintf("%d %s", r.Tier, r.TierName),
		})
	}
	table.Render()
}

func printTierTable(w io.Writer, tiers []registry.TierInfo) {
	table := newTable(w, "Tier", "Name", "Top percentile", "Reward share")
	for _, t := range tiers {
		table.Append([]string{
			strconv.Itoa(int(t.ID)),
			t.Name,
			strconv.FormatFloat(t.TopPercentile, 'f', -1, 64),
			strconv.FormatFloat(t.RewardShare, 'f', -1, 64) + "%",
		})
	}
	table.Render()
}

func printSnapshot(w io.Writer, snap *registry.Snapshot) {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetColumnSeparator(" ")
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"Owner", snap.Registry.Owner.String()},
		{"Admins", strconv.Itoa(snap.Registry.Admins.Len())},
		{"Reward token", snap.Registry.RewardToken.String()},
		{"Vault", snap.Registry.Vault.String()},
		{"Agents", strconv.FormatUint(snap.Registry.TotalAgents, 10)},
		{"Total score", strconv.FormatUint(snap.Registry.TotalScore, 10)},
		{"Min score", strconv.FormatUint(snap.Registry.MinScoreThreshold, 10)},
		{"Vault native", strconv.FormatUint(snap.VaultNative, 10)},
		{"Vault tokens", strconv.FormatUint(snap.VaultTokens, 10)},
		{"Issuance fee", strconv.FormatUint(snap.IssuanceFee, 10)},
		{"Withdrawable", strconv.FormatUint(snap.Withdrawable, 10)},
	})
	table.Render()
}
