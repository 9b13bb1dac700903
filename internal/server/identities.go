package server

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/ssd-technologies/nebulon/internal/linkverify"
	"github.com/ssd-technologies/nebulon/internal/registry"
)

// identityView is the public projection of an identity. The private vault is
// only returned to its owner.
type identityView struct {
	Handle             string            `json:"handle"`
	Version            uint32            `json:"version"`
	SchemaVersion      int               `json:"schema_version"`
	Owner              registry.Address  `json:"owner"`
	Mint               registry.Address  `json:"mint"`
	Name               string            `json:"name"`
	HexID              registry.HexID    `json:"hex_id"`
	Score              uint64            `json:"score"`
	Tier               uint8             `json:"tier"`
	TierName           string            `json:"tier_name"`
	IsActive           bool              `json:"is_active"`
	URI                string            `json:"uri"`
	PublicData         string            `json:"public_data"`
	LastClaimTimestamp int64             `json:"last_claim_timestamp"`
	CreatedAt          int64             `json:"created_at"`
	SNS                map[string]string `json:"sns"`
	HasPrivateData     bool              `json:"has_private_data"`
	Recommendations    uint64            `json:"recommendations"`
	Reports            uint64            `json:"reports"`
}

func viewOf(id *registry.Identity) identityView {
	info, _ := registry.TierByID(id.Tier)
	return identityView{
		Handle:             id.Handle,
		Version:            id.Version,
		SchemaVersion:      id.SchemaVersion,
		Owner:              id.Owner,
		Mint:               id.Mint,
		Name:               id.Name,
		HexID:              id.HexID,
		Score:              id.Score,
		Tier:               id.Tier,
		TierName:           info.Name,
		IsActive:           id.IsActive,
		URI:                id.URI,
		PublicData:         id.PublicData,
		LastClaimTimestamp: id.LastClaimTimestamp,
		CreatedAt:          id.CreatedAt,
		SNS:                id.SNS,
		HasPrivateData:     len(id.PrivateVault) > 0,
		Recommendations:    id.Recommendations,
		Reports:            id.Reports,
	}
}

// handleIssue creates an identity owned by the signing agent.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req issueRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ir, err := req.toRegistry()
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	id, err := s.svc.Issue(r.Context(), caller, ir)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(id))
}

// handleListIdentities lists the latest version of every identity. Filters:
// owner=<address> returns only that owner's active identity; active=true
// drops inactive lineages.
func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	if owner := q.Get("owner"); owner != "" {
		addr, err := registry.ParseAddress(owner)
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		id, err := s.svc.IdentityByOwner(ctx, addr)
		if errors.Is(err, registry.ErrIdentityNotFound) {
			writeJSON(w, http.StatusOK, []identityView{})
			return
		}
		if err != nil {
			s.writeRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, []identityView{viewOf(id)})
		return
	}

	ids, err := s.svc.Identities(ctx)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	activeOnly := q.Get("active") == "true"
	out := make([]identityView, 0, len(ids))
	for i := range ids {
		if activeOnly && !ids[i].IsActive {
			continue
		}
		out = append(out, viewOf(&ids[i]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	writeJSON(w, http.StatusOK, out)
}

// handleGetIdentity returns the latest version of a handle, or the version
// named by ?version=N.
func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	handle := r.PathValue("handle")
	var (
		id  *registry.Identity
		err error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		n, perr := strconv.ParseUint(v, 10, 32)
		if perr != nil || n == 0 {
			writeError(w, http.StatusBadRequest, "version must be a positive integer")
			return
		}
		id, err = s.svc.IdentityVersion(r.Context(), handle, uint32(n))
	} else {
		id, err = s.svc.Identity(r.Context(), handle)
	}
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(id))
}

// handleGetPrivateData returns the private vault to the identity's owner.
func (s *Server) handleGetPrivateData(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	id, err := s.svc.Identity(r.Context(), r.PathValue("handle"))
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	if id.Owner != caller {
		s.writeRegistryError(w, r, registry.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, privateDataRequest{Data: id.PrivateVault})
}

// handleReissue writes the next version of a handle for a new owner.
func (s *Server) handleReissue(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req reissueRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := registry.ParseAddress(req.NewOwner)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	mint, err := registry.ParseAddress(req.NewMint)
	if err != nil {
		s.writeRegistryError(w, r, registry.ErrInvalidMintAddress)
		return
	}
	id, err := s.svc.Reissue(r.Context(), caller, r.PathValue("handle"), registry.ReissueRequest{NewOwner: owner, NewMint: mint})
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(id))
}

// handleUpdateStatus sets score and tier.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.svc.UpdateStatus(r.Context(), caller, r.PathValue("handle"), registry.StatusUpdate{
		Score: req.Score,
		Tier:  req.Tier,
		URI:   req.URI,
	})
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(id))
}

// handleUpdateSNS links or unlinks a platform handle without a bonus.
func (s *Server) handleUpdateSNS(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req snsRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.svc.UpdateSNS(r.Context(), caller, registry.SNSUpdate{
		Handle:         r.PathValue("handle"),
		Platform:       req.Platform,
		ExternalHandle: req.ExternalHandle,
		Remove:         req.Remove,
	})
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(id))
}

func (s *Server) handleUpdatePrivateData(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req privateDataRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.UpdatePrivateData(r.Context(), caller, r.PathValue("handle"), req.Data); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleUpdatePublicData(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req publicDataRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.svc.UpdatePublicData(r.Context(), caller, r.PathValue("handle"), req.Data); err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleClaim pays the fixed reward to the identity owner.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller, _, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	amount, err := s.svc.ClaimRewards(r.Context(), caller, r.PathValue("handle"))
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"amount": amount})
}

// handleVerifyLink checks a public post for the link marker of the caller's
// handle, then links the external account with the configured bonus under
// the daemon's authority.
func (s *Server) handleVerifyLink(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := s.signedCaller(w, r)
	if !ok {
		return
	}
	var req verifyLinkRequest
	if err := decode(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.opts.Verifier == nil || s.authority == "" {
		writeError(w, http.StatusServiceUnavailable, "link verification is not configured")
		return
	}
	ctx := r.Context()
	id, err := s.svc.Identity(ctx, req.Handle)
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	if id.Owner != caller {
		s.writeRegistryError(w, r, registry.ErrUnauthorized)
		return
	}

	if err := s.opts.Verifier.Verify(ctx, req.Platform, id.Handle, req.ExternalHandle, req.PostURL); err != nil {
		linkVerifications.WithLabelValues(req.Platform, "failed").Inc()
		switch {
		case errors.Is(err, linkverify.ErrUnsupportedPlatform), errors.Is(err, linkverify.ErrInvalidURL):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, linkverify.ErrPatternNotFound), errors.Is(err, linkverify.ErrAccountMismatch):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			s.log.Info("link verification failed",
				zap.String("handle", id.Handle),
				zap.String("platform", req.Platform),
				zap.Error(err))
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	updated, err := s.svc.UpdateSNS(ctx, s.authority, registry.SNSUpdate{
		Handle:         id.Handle,
		Platform:       req.Platform,
		ExternalHandle: req.ExternalHandle,
		Bonus:          s.opts.LinkBonus,
	})
	if err != nil {
		s.writeRegistryError(w, r, err)
		return
	}
	linkVerifications.WithLabelValues(req.Platform, "verified").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "verified",
		"bonus":    s.opts.LinkBonus,
		"identity": viewOf(updated),
	})
}
