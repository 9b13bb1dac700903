package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ssd-technologies/nebulon/internal/agent"
	"github.com/ssd-technologies/nebulon/internal/registry"
)

func registerCommands(root *cobra.Command) {
	root.AddCommand(
		keygenCmd(),
		whoamiCmd(),
		registryCmd(),
		initCmd(),
		adminCmd(),
		issueCmd(),
		showCmd(),
		listCmd(),
		reissueCmd(),
		statusCmd(),
		linkCmd(),
		verifyCmd(),
		publicCmd(),
		privateCmd(),
		recommendCmd(),
		reportCmd(),
		claimCmd(),
		withdrawCmd(),
		tiersCmd(),
		leaderboardCmd(),
		balanceCmd(),
		depositCmd(),
	)
}

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an agent key at --key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(keyPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to replace it)", keyPath)
			}
			priv, err := agent.GenerateKey()
			if err != nil {
				return err
			}
			if err := agent.SaveKey(keyPath, priv); err != nil {
				return err
			}
			addr, err := selfAddress(&client{key: priv})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Key written to %s\nAddress: %s\n", keyPath, addr)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the address of the loaded key",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			addr, err := selfAddress(c)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		}),
	}
}

func registryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Show the registry aggregate and pool balances",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			var snap registry.Snapshot
			if err := c.get(ctx, "/api/registry", &snap); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), snap)
			}
			printSnapshot(cmd.OutOrStdout(), &snap)
			return nil
		}),
	}
}

func initCmd() *cobra.Command {
	var minScore uint64
	cmd := &cobra.Command{
		Use:   "init <reward-token>",
		Short: "Initialize the registry with the loaded key as owner",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			var snap registry.Snapshot
			body := map[string]any{"reward_token": args[0], "min_score_threshold": minScore}
			if err := c.signed(ctx, "POST", "/api/registry/init", body, &snap.Registry); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registry initialized\nVault: %s\n", snap.Registry.Vault)
			return nil
		}),
	}
	cmd.Flags().Uint64Var(&minScore, "min-score", 0, "Minimum score to claim rewards")
	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage registry admins",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <address>",
		Short: "Add an admin",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			if err := c.signed(ctx, "POST", "/api/admins", map[string]string{"address": args[0]}, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added admin %s\n", args[0])
			return nil
		}),
	}, &cobra.Command{
		Use:   "remove <address>",
		Short: "Remove an admin",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			if err := c.signed(ctx, "DELETE", "/api/admins/"+url.PathEscape(args[0]), nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed admin %s\n", args[0])
			return nil
		}),
	})
	return cmd
}

// randomHexID returns a fresh hex id for issuance.
func randomHexID() (string, error) {
	b := make([]byte, registry.HexIDSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func issueCmd() *cobra.Command {
	var name, uri, hexID, mint string
	cmd := &cobra.Command{
		Use:   "issue <handle>",
		Short: "Issue an identity to the loaded key",
		Long: `Issues an identity and pays the current bonding-curve fee from the
key's native balance. A random hex id is generated unless --hex-id is set.`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			if hexID == "" {
				var err error
				if hexID, err = randomHexID(); err != nil {
					return err
				}
			}
			body := map[string]string{"handle": args[0], "name": name, "uri": uri, "hex_id": hexID, "mint": mint}
			var id identity
			if err := c.signed(ctx, "POST", "/api/identities", body, &id); err != nil {
				return err
			}
			return showIdentity(cmd, &id)
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&uri, "uri", "", "Metadata URI")
	cmd.Flags().StringVar(&hexID, "hex-id", "", "Hex id (1024 hex characters)")
	cmd.Flags().StringVar(&mint, "mint", "", "Mint address for the soulbound token")
	cmd.MarkFlagRequired("mint")
	return cmd
}

func showIdentity(cmd *cobra.Command, id *identity) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), id)
	}
	printIdentity(cmd.OutOrStdout(), id)
	return nil
}

func showCmd() *cobra.Command {
	var version uint32
	cmd := &cobra.Command{
		Use:   "show <handle>",
		Short: "Show an identity",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			path := "/api/identities/" + url.PathEscape(args[0])
			if version > 0 {
				path += "?version=" + strconv.FormatUint(uint64(version), 10)
			}
			var id identity
			if err := c.get(ctx, path, &id); err != nil {
				return err
			}
			return showIdentity(cmd, &id)
		}),
	}
	cmd.Flags().Uint32Var(&version, "version", 0, "Show a specific version instead of the latest")
	return cmd
}

func listCmd() *cobra.Command {
	var owner string
	var active, mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List identities",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			if mine {
				addr, err := selfAddress(c)
				if err != nil {
					return err
				}
				owner = addr.String()
			}
			q := url.Values{}
			if owner != "" {
				q.Set("owner", owner)
			}
			if active {
				q.Set("active", "true")
			}
			path := "/api/identities"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var ids []identity
			if err := c.get(ctx, path, &ids); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), ids)
			}
			printIdentities(cmd.OutOrStdout(), ids)
			return nil
		}),
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Only identities owned by this address")
	cmd.Flags().BoolVar(&mine, "mine", false, "Only identities owned by the loaded key")
	cmd.Flags().BoolVar(&active, "active", false, "Only active identities")
	return cmd
}

func reissueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reissue <handle> <new-owner> <new-mint>",
		Short: "Reissue an identity to a new owner (admin)",
		Args:  cobra.ExactArgs(3),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			body := map[string]string{"new_owner": args[1], "new_mint": args[2]}
			var id identity
			if err := c.signed(ctx, "POST", "/api/identities/"+url.PathEscape(args[0])+"/reissue", body, &id); err != nil {
				return err
			}
			return showIdentity(cmd, &id)
		}),
	}
}

func statusCmd() *cobra.Command {
	var score uint64
	var tier uint8
	var uri string
	cmd := &cobra.Command{
		Use:   "status <handle>",
		Short: "Set an identity's score and tier (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			body := map[string]any{"score": score, "tier": tier}
			if cmd.Flags().Changed("uri") {
				body["uri"] = uri
			}
			var id identity
			if err := c.signed(ctx, "POST", "/api/identities/"+url.PathEscape(args[0])+"/status", body, &id); err != nil {
				return err
			}
			return showIdentity(cmd, &id)
		}),
	}
	cmd.Flags().Uint64Var(&score, "score", 0, "New score")
	cmd.Flags().Uint8Var(&tier, "tier", registry.DeadzoneTier, "New tier (1-10)")
	cmd.Flags().StringVar(&uri, "uri", "", "New metadata URI")
	cmd.MarkFlagRequired("score")
	return cmd
}

func linkCmd() *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "link <handle> <platform> [external-handle]",
		Short: "Set or remove an external account link (admin)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			body := map[string]any{"platform": args[1], "remove": remove}
			if len(args) == 3 {
				body["external_handle"] = args[2]
			}
			var id identity
			if err := c.signed(ctx, "POST", "/api/identities/"+url.PathEscape(args[0])+"/sns", body, &id); err != nil {
				return err
			}
			return showIdentity(cmd, &id)
		}),
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the link")
	return cmd
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <handle> <platform> <external-handle> <post-url>",
		Short: "Verify an external account by a public post containing the link marker",
		Long: `The post at <post-url> must contain NEBULON-LINK-<handle>. On success the
link is recorded and the identity earns the configured bonus.`,
		Args: cobra.ExactArgs(4),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			body := map[string]string{"handle": args[0], "platform": args[1], "external_handle": args[2], "post_url": args[3]}
			var resp struct {
				Status   string   `json:"status"`
				Bonus    uint64   `json:"bonus"`
				Identity identity `json:"identity"`
			}
			if err := c.signed(ctx, "POST", "/api/sns/verify", body, &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Verified %s on %s (+%d score, now %d)\n",
				args[2], args[1], resp.Bonus, resp.Identity.Score)
			return nil
		}),
	}
}

func publicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "public <handle> <data>",
		Short: "Set an identity's public data",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			var id identity
			if err := c.signed(ctx, "POST", "/api/identities/"+url.PathEscape(args[0])+"/public", map[string]string{"data": args[1]}, &id); err != nil {
				return err
			}
			return showIdentity(cmd, &id)
		}),
	}
}

func privateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "private <handle>",
		Short: "Read the private vault, or replace it with --file",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			path := "/api/identities/" + url.PathEscape(args[0]) + "/private"
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				if err := c.signed(ctx, "POST", path, map[string][]byte{"data": data}, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored %d bytes\n", len(data))
				return nil
			}
			var resp struct {
				Data []byte `json:"data"`
			}
			if err := c.signed(ctx, "GET", path, nil, &resp); err != nil {
				return err
			}
			_, err := cmd.OutOrStdout().Write(resp.Data)
			return err
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Replace the vault with this file's contents")
	return cmd
}

// proofFlags selects how a peer action proves the target's identity.
type proofFlags struct {
	handle, hexID, platform, external string
}

func (p *proofFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.handle, "handle", "", "Prove by the target's handle")
	cmd.Flags().StringVar(&p.hexID, "hex-id", "", "Prove by the target's hex id")
	cmd.Flags().StringVar(&p.platform, "platform", "", "Prove by a linked account on this platform")
	cmd.Flags().StringVar(&p.external, "external-handle", "", "The linked account handle")
}

func (p *proofFlags) body(target string) (map[string]string, error) {
	body := map[string]string{"target": target}
	switch {
	case p.handle != "":
		body["mode"], body["handle"] = "handle", p.handle
	case p.hexID != "":
		body["mode"], body["hex_id"] = "hex_id", p.hexID
	case p.platform != "":
		body["mode"], body["platform"], body["external_handle"] = "sns", p.platform, p.external
	default:
		return nil, fmt.Errorf("one of --handle, --hex-id or --platform is required")
	}
	return body, nil
}

func peerActionCmd(use, short, path string) *cobra.Command {
	var proof proofFlags
	cmd := &cobra.Command{
		Use:   use + " <target-owner>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			body, err := proof.body(args[0])
			if err != nil {
				return err
			}
			var id identity
			if err := c.signed(ctx, "POST", path, body, &id); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d recommendations, %d reports\n", id.Handle, id.Recommendations, id.Reports)
			return nil
		}),
	}
	proof.bind(cmd)
	return cmd
}

func recommendCmd() *cobra.Command {
	return peerActionCmd("recommend", "Recommend another agent (pays the recommendation fee)", "/api/recommend")
}

func reportCmd() *cobra.Command {
	return peerActionCmd("report", "Report another agent (pays the report fee)", "/api/report")
}

func claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <handle>",
		Short: "Claim rewards for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			var resp struct {
				Amount uint64 `json:"amount"`
			}
			if err := c.signed(ctx, "POST", "/api/identities/"+url.PathEscape(args[0])+"/claim", nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Claimed %d tokens\n", resp.Amount)
			return nil
		}),
	}
}

func withdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Withdraw from the pool vault (owner)",
	}
	for _, kind := range []string{"currency", "tokens"} {
		cmd.AddCommand(&cobra.Command{
			Use:   kind + " <amount>",
			Short: "Withdraw " + kind,
			Args:  cobra.ExactArgs(1),
			RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
				amount, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid amount: %w", err)
				}
				if err := c.signed(ctx, "POST", "/api/withdraw/"+kind, map[string]uint64{"amount": amount}, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Withdrew %d %s\n", amount, kind)
				return nil
			}),
		})
	}
	return cmd
}

func tiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Show the tier table",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			var tiers []registry.TierInfo
			if err := c.get(ctx, "/api/tiers", &tiers); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), tiers)
			}
			printTierTable(cmd.OutOrStdout(), tiers)
			return nil
		}),
	}
}

func leaderboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank active identities by score",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			var rows []ranked
			if err := c.get(ctx, "/api/leaderboard", &rows); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), rows)
			}
			printRanked(cmd.OutOrStdout(), rows)
			return nil
		}),
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [address]",
		Short: "Show native and reward token balances (default: the loaded key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			var addr string
			if len(args) == 1 {
				addr = args[0]
			} else {
				self, err := selfAddress(c)
				if err != nil {
					return err
				}
				addr = self.String()
			}
			var resp struct {
				Native uint64 `json:"native"`
				Tokens uint64 `json:"tokens"`
			}
			if err := c.get(ctx, "/api/balances/"+url.PathEscape(addr), &resp); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Native: %d\nTokens: %d\n", resp.Native, resp.Tokens)
			return nil
		}),
	}
}

func depositCmd() *cobra.Command {
	var asset string
	cmd := &cobra.Command{
		Use:   "deposit <address> <amount>",
		Short: "Credit an account (operator, needs --admin-secret)",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, c *client, cmd *cobra.Command, args []string) error {
			if c.adminSecret == "" {
				return fmt.Errorf("--admin-secret is required")
			}
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount: %w", err)
			}
			body := map[string]any{"to": args[0], "asset": asset, "amount": amount}
			if err := c.do(ctx, "POST", "/api/operator/deposit", body, false, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deposited %d %s to %s\n", amount, asset, args[0])
			return nil
		}),
	}
	cmd.Flags().StringVar(&asset, "asset", string(registry.AssetNative), "Asset: native or token:<mint>")
	return cmd
}
