package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

var validate = validator.New()

// decode parses a JSON body into the struct v and runs its validate tags.
func decode(body []byte, v any) error {
	if err := decodeJSON(body, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid request: %s", strings.Join(msgs, ", "))
		}
		return err
	}
	return nil
}

// decodeJSON parses a JSON body into v, rejecting unknown fields. An empty
// body decodes as an empty object.
func decodeJSON(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

type initRequest struct {
	RewardToken       string `json:"reward_token" validate:"required"`
	MinScoreThreshold uint64 `json:"min_score_threshold"`
}

type adminRequest struct {
	Address string `json:"address" validate:"required"`
}

type issueRequest struct {
	Handle string `json:"handle" validate:"required"`
	Name   string `json:"name" validate:"max=64"`
	URI    string `json:"uri" validate:"omitempty,max=512"`
	HexID  string `json:"hex_id" validate:"required,len=1024"`
	Mint   string `json:"mint" validate:"required"`
}

func (r *issueRequest) toRegistry() (registry.IssueRequest, error) {
	hexID, err := registry.ParseHexID(r.HexID)
	if err != nil {
		return registry.IssueRequest{}, err
	}
	mint, err := registry.ParseAddress(r.Mint)
	if err != nil {
		return registry.IssueRequest{}, registry.ErrInvalidMintAddress
	}
	return registry.IssueRequest{Handle: r.Handle, Name: r.Name, URI: r.URI, HexID: hexID, Mint: mint}, nil
}

type reissueRequest struct {
	NewOwner string `json:"new_owner" validate:"required"`
	NewMint  string `json:"new_mint" validate:"required"`
}

type statusRequest struct {
	Score uint64  `json:"score"`
	Tier  uint8   `json:"tier"`
	URI   *string `json:"uri" validate:"omitempty,max=512"`
}

type snsRequest struct {
	Platform       string `json:"platform" validate:"required"`
	ExternalHandle string `json:"external_handle" validate:"required_without=Remove,max=128"`
	Remove         bool   `json:"remove"`
}

type privateDataRequest struct {
	// Data is base64 in JSON.
	Data []byte `json:"data"`
}

type publicDataRequest struct {
	Data string `json:"data" validate:"max=4096"`
}

type proofRequest struct {
	Target         string `json:"target" validate:"required"`
	Mode           string `json:"mode" validate:"required,oneof=handle hex_id sns"`
	Handle         string `json:"handle" validate:"required_if=Mode handle"`
	HexID          string `json:"hex_id" validate:"required_if=Mode hex_id"`
	Platform       string `json:"platform" validate:"required_if=Mode sns"`
	ExternalHandle string `json:"external_handle" validate:"required_if=Mode sns"`
}

func (r *proofRequest) toRegistry() (registry.Proof, error) {
	target, err := registry.ParseAddress(r.Target)
	if err != nil {
		return registry.Proof{}, err
	}
	p := registry.Proof{
		Target:         target,
		Mode:           registry.ProofMode(r.Mode),
		Handle:         r.Handle,
		Platform:       r.Platform,
		ExternalHandle: r.ExternalHandle,
	}
	if p.Mode == registry.ProofHexID {
		if p.HexID, err = registry.ParseHexID(r.HexID); err != nil {
			return registry.Proof{}, err
		}
	}
	return p, nil
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type verifyLinkRequest struct {
	Handle         string `json:"handle" validate:"required"`
	Platform       string `json:"platform" validate:"required"`
	ExternalHandle string `json:"external_handle" validate:"required,max=128"`
	PostURL        string `json:"post_url" validate:"required,url"`
}

type depositRequest struct {
	To     string `json:"to" validate:"required"`
	Asset  string `json:"asset" validate:"required"`
	Amount uint64 `json:"amount" validate:"gt=0"`
}
