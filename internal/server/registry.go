package server

import (
	"context"
	"net/http"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

// handleGetRegistry returns the aggregate, pool balances and next fee.
func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Registry(r.Context())
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleInitRegistry makes the signing agent the registry owner.
func (s *Server) handleInitRegistry(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req initRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := registry.ParseAddress(req.RewardToken)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	reg, err := s.svc.Initialize(r.Context(), caller, registry.InitParams{
		RewardToken:       token,
		MinScoreThreshold: req.MinScoreThreshold,
	})
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reg)
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req adminRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	candidate, err := registry.ParseAddress(req.Address)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	if err := s.svc.AddAdmin(r.Context(), caller, candidate); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "added", "address": candidate.String()})
}

func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	target, err := registry.ParseAddress(r.PathValue("address"))
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	if err := s.svc.RemoveAdmin(r.Context(), caller, target); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "address": target.String()})
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	s.handlePeerAction(w, r, s.svc.Recommend)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.handlePeerAction(w, r, s.svc.Report)
}

type peerActionFunc func(ctx context.Context, caller registry.Address, p registry.Proof) (*registry.Identity, error)

// handlePeerAction decodes a proof and applies a recommend or report.
func (s *Server) handlePeerAction(w http.ResponseWriter, r *http.Request, act peerActionFunc) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req proofRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	proof, err := req.toRegistry()
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	target, err := act(r.Context(), caller, proof)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(target))
}

func (s *Server) handleWithdrawCurrency(w http.ResponseWriter, r *http.Request) {
	s.handleWithdraw(w, r, s.svc.WithdrawCurrency)
}

func (s *Server) handleWithdrawTokens(w http.ResponseWriter, r *http.Request) {
	s.handleWithdraw(w, r, s.svc.WithdrawTokens)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, withdraw func(context.Context, registry.Address, uint64) error) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := withdraw(r.Context(), caller, req.Amount); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"amount": req.Amount})
}

// balancesResponse reports an address's native and reward token balances.
type balancesResponse struct {
	Address registry.Address `json:"address"`
	Native  uint64           `json:"native"`
	Tokens  uint64           `json:"tokens"`
	// Asset and Amount are set when ?asset= names another asset.
	Asset  registry.Asset `json:"asset,omitempty"`
	Amount uint64         `json:"amount,omitempty"`
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, err := registry.ParseAddress(r.PathValue("address"))
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	snap, err := s.svc.Registry(ctx)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	resp := balancesResponse{Address: addr}
	if resp.Native, err = s.svc.Balance(ctx, addr, registry.AssetNative); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	if resp.Tokens, err = s.svc.Balance(ctx, addr, snap.Registry.RewardAsset()); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	if a := r.URL.Query().Get("asset"); a != "" {
		asset, err := registry.ParseAsset(a)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp.Asset = asset
		if resp.Amount, err = s.svc.Balance(ctx, addr, asset); err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDeposit credits an address from outside the ledger. Operators use it
// to fund agents and the reward pool.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req depositRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := registry.ParseAddress(req.To)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	asset, err := registry.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.Deposit(r.Context(), to, asset, req.Amount); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deposited", "to": to, "asset": asset, "amount": req.Amount})
}

func (s *Server) handleTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, registry.Tiers)
}

// tierResult is one ranked identity with its tier metadata.
type tierResult struct {
	registry.TierAssignment
	TierName    string  `json:"tier_name"`
	RewardShare float64 `json:"reward_share"`
	MetadataURI string  `json:"metadata_uri"`
}

func tierResults(entries []registry.RankEntry) []tierResult {
	ranked := registry.RankTiers(entries)
	out := make([]tierResult, len(ranked))
	for i, a := range ranked {
		info, _ := registry.TierByID(a.Tier)
		out[i] = tierResult{
			TierAssignment: a,
			TierName:       info.Name,
			RewardShare:    info.RewardShare,
			MetadataURI:    info.MetadataURI,
		}
	}
	return out
}

// handleCalculateTiers ranks an arbitrary handle to score map without
// touching the registry.
func (s *Server) handleCalculateTiers(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var scores map[string]uint64
	if err := decodeJSON(body, &scores); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries := make([]registry.RankEntry, 0, len(scores))
	for h, sc := range scores {
		entries = append(entries, registry.RankEntry{Handle: h, Score: sc})
	}
	writeJSON(w, http.StatusOK, tierResults(entries))
}

// handleLeaderboard ranks active identities by score.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ids, err := s.svc.Identities(r.Context())
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tierResults(rankEntries(ids)))
}

// rankEntries returns the ranking input for every active identity.
func rankEntries(ids []registry.Identity) []registry.RankEntry {
	entries := make([]registry.RankEntry, 0, len(ids))
	for _, id := range ids {
		if id.IsActive {
			entries = append(entries, registry.RankEntry{Handle: id.Handle, Score: id.Score})
		}
	}
	return entries
}
