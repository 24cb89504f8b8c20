package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/iov-one/torasuri"
	"github.com/iov-one/torasuri/errors"
	"github.com/iov-one/torasuri/ledger"
	"github.com/iov-one/torasuri/x/challenge"
	"github.com/iov-one/torasuri/x/signers"
	"github.com/iov-one/torasuri/x/spend"
	"github.com/iov-one/torasuri/x/treasury"
)

const maxBodySize = 1 << 20

func (a *app) routes() http.Handler {
	rt := http.NewServeMux()
	rt.Handle("GET /health", a.handle(a.health))

	rt.Handle("POST /treasuries", a.handle(a.setupTreasury))
	rt.Handle("GET /treasuries/{treasury}", a.handle(a.getTreasury))

	rt.Handle("POST /treasuries/{treasury}/challenges", a.handle(a.issueChallenge))
	rt.Handle("POST /treasuries/{treasury}/signers", a.handle(a.enrollSigner))
	rt.Handle("GET /treasuries/{treasury}/signers", a.handle(a.listSigners))
	rt.Handle("DELETE /treasuries/{treasury}/signers/{member}", a.handle(a.removeSigner))

	rt.Handle("POST /treasuries/{treasury}/spends", a.handle(a.createSpend))
	rt.Handle("GET /treasuries/{treasury}/spends", a.handle(a.listPending))
	rt.Handle("GET /treasuries/{treasury}/spends/history", a.handle(a.listHistory))
	rt.Handle("GET /treasuries/{treasury}/spends/{id}", a.handle(a.getSpend))
	rt.Handle("POST /treasuries/{treasury}/spends/{id}/signatures", a.handle(a.signSpend))
	rt.Handle("POST /treasuries/{treasury}/spends/{id}/submit", a.handle(a.submitSpend))
	rt.Handle("POST /treasuries/{treasury}/spends/{id}/cancel", a.handle(a.cancelSpend))
	return rt
}

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

// handle writes the error returned by fn as a JSON response. Errors that are
// not registered are not exposed to the client.
func (a *app) handle(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := serve(fn, w, r)
		if err == nil {
			return
		}
		code := httpStatus(err)
		if code >= http.StatusInternalServerError {
			a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		}
		JSONErr(w, code, errors.Redact(err).Error())
	})
}

func serve(fn handlerFunc, w http.ResponseWriter, r *http.Request) (err error) {
	defer errors.Recover(&err)
	return fn(w, r)
}

// httpStatus maps an error kind to the response status code.
func httpStatus(err error) int {
	switch {
	case errors.ErrNotFound.Is(err),
		spend.ErrSpendNotFound.Is(err),
		spend.ErrNoTreasury.Is(err),
		challenge.ErrNoSuchChallenge.Is(err):
		return http.StatusNotFound
	case errors.ErrUnauthorized.Is(err),
		spend.ErrNotAuthorized.Is(err),
		spend.ErrNotSigner.Is(err),
		spend.ErrNotProposer.Is(err):
		return http.StatusForbidden
	case errors.ErrDuplicate.Is(err),
		errors.ErrConflict.Is(err),
		spend.ErrNotCollecting.Is(err),
		spend.ErrNoQuorum.Is(err):
		return http.StatusConflict
	case challenge.ErrChallengeExpired.Is(err),
		errors.ErrExpired.Is(err):
		return http.StatusGone
	case challenge.ErrRateLimited.Is(err):
		return http.StatusTooManyRequests
	case errors.ErrTimeout.Is(err):
		return http.StatusGatewayTimeout
	case errors.ErrNetwork.Is(err):
		return http.StatusBadGateway
	case errors.ErrInput.Is(err),
		errors.ErrEmpty.Is(err),
		errors.ErrModel.Is(err),
		errors.ErrAmount.Is(err),
		errors.ErrState.Is(err),
		ledger.ErrInvalidPublicKey.Is(err),
		ledger.ErrBadEnvelope.Is(err),
		ledger.ErrHashMismatch.Is(err),
		ledger.ErrInvalidAmount.Is(err),
		spend.ErrDestinationIsTreasury.Is(err),
		spend.ErrMissingSignature.Is(err),
		spend.ErrInsufficientSigners.Is(err),
		challenge.ErrIdentityMismatch.Is(err),
		challenge.ErrMalformedOperation.Is(err),
		challenge.ErrDomainMismatch.Is(err),
		challenge.ErrMissingServerSignature.Is(err),
		challenge.ErrMissingUserSignature.Is(err),
		challenge.ErrMalformedEnvelope.Is(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *app) health(w http.ResponseWriter, r *http.Request) error {
	JSONResp(w, http.StatusOK, struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}{
		Status:  "ok",
		Version: torasuri.Version(),
	})
	return nil
}

type setupTreasuryRequest struct {
	TreasuryID          string   `json:"treasury_id"`
	PublicKey           string   `json:"public_key"`
	AdminID             string   `json:"admin_id"`
	MicroThresholdCents int64    `json:"micro_threshold_cents"`
	AdditionalSignerIDs []string `json:"additional_signer_ids"`
	RequiredApprovals   uint32   `json:"required_approvals"`
}

func (a *app) setupTreasury(w http.ResponseWriter, r *http.Request) error {
	var req setupTreasuryRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	cfg, err := a.treasuries.Setup(treasury.SetupRequest{
		TreasuryID:          req.TreasuryID,
		PublicKey:           req.PublicKey,
		AdminID:             req.AdminID,
		MicroThresholdCents: req.MicroThresholdCents,
		AdditionalSignerIDs: req.AdditionalSignerIDs,
		RequiredApprovals:   req.RequiredApprovals,
		ServerKey:           a.challenges.ServerAddress(),
	}, a.clock.Now())
	if err != nil {
		return err
	}
	a.logger.Info("treasury configured", "treasury", cfg.TreasuryID, "quorum", cfg.QuorumRatio())
	JSONResp(w, http.StatusCreated, newTreasuryView(cfg))
	return nil
}

func (a *app) getTreasury(w http.ResponseWriter, r *http.Request) error {
	cfg, err := a.treasury(r)
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusOK, newTreasuryView(cfg))
	return nil
}

type challengeRequest struct {
	MemberID  string `json:"member_id"`
	PublicKey string `json:"public_key"`
}

func (a *app) issueChallenge(w http.ResponseWriter, r *http.Request) error {
	var req challengeRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	cfg, err := a.treasury(r)
	if err != nil {
		return err
	}
	if err := member(cfg, req.MemberID); err != nil {
		return err
	}
	if req.PublicKey == cfg.PublicKey {
		return errors.Wrap(errors.ErrInput, "treasury key cannot be a signer key")
	}
	c, err := a.challenges.Issue(r.Context(), req.PublicKey, req.MemberID, a.domain)
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusCreated, challengeView{
		Hash:      c.Hash,
		Envelope:  c.Envelope,
		Server:    a.challenges.ServerAddress(),
		ExpiresAt: c.ExpiresAt.Time(),
	})
	return nil
}

type enrollRequest struct {
	MemberID       string `json:"member_id"`
	PublicKey      string `json:"public_key"`
	SignedEnvelope string `json:"signed_envelope"`
}

func (a *app) enrollSigner(w http.ResponseWriter, r *http.Request) error {
	var req enrollRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	cfg, err := a.treasury(r)
	if err != nil {
		return err
	}
	if err := member(cfg, req.MemberID); err != nil {
		return err
	}
	s, err := a.challenges.Enroll(r.Context(), a.registry, cfg.TreasuryID, req.SignedEnvelope, req.PublicKey, req.MemberID, a.domain)
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusOK, newSignerView(s))
	return nil
}

func (a *app) listSigners(w http.ResponseWriter, r *http.Request) error {
	cfg, err := a.treasury(r)
	if err != nil {
		return err
	}
	list, err := a.registry.List(cfg.TreasuryID)
	if err != nil {
		return err
	}
	views := make([]signerView, 0, len(list))
	for _, s := range list {
		views = append(views, newSignerView(s))
	}
	JSONResp(w, http.StatusOK, views)
	return nil
}

func (a *app) removeSigner(w http.ResponseWriter, r *http.Request) error {
	cfg, err := a.treasury(r)
	if err != nil {
		return err
	}
	if err := a.registry.Remove(cfg.TreasuryID, r.PathValue("member")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

type createSpendRequest struct {
	ProposerID  string `json:"proposer_id"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Memo        string `json:"memo"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RecipientID string `json:"recipient_id"`
}

func (a *app) createSpend(w http.ResponseWriter, r *http.Request) error {
	var req createSpendRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	p, err := a.spends.Create(r.Context(), spend.CreateRequest{
		TreasuryID:  r.PathValue("treasury"),
		ProposerID:  req.ProposerID,
		Destination: req.Destination,
		Amount:      req.Amount,
		Memo:        req.Memo,
		Title:       req.Title,
		Description: req.Description,
		RecipientID: req.RecipientID,
	})
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusCreated, newSpendView(p))
	return nil
}

func (a *app) listPending(w http.ResponseWriter, r *http.Request) error {
	list, err := a.spends.ListPending(r.Context(), r.PathValue("treasury"))
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusOK, newSpendViews(list))
	return nil
}

func (a *app) listHistory(w http.ResponseWriter, r *http.Request) error {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return errors.Wrapf(errors.ErrInput, "limit %q", raw)
		}
		limit = n
	}
	list, err := a.spends.ListHistory(r.Context(), r.PathValue("treasury"), limit)
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusOK, newSpendViews(list))
	return nil
}

func (a *app) getSpend(w http.ResponseWriter, r *http.Request) error {
	p, err := a.spends.Get(r.Context(), r.PathValue("treasury"), r.PathValue("id"))
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusOK, newSpendView(p))
	return nil
}

type signRequest struct {
	MemberID       string `json:"member_id"`
	PublicKey      string `json:"public_key"`
	SignedEnvelope string `json:"signed_envelope"`
}

// signSpend accepts a signature and submits the spend as soon as it reaches
// its quorum.
func (a *app) signSpend(w http.ResponseWriter, r *http.Request) error {
	var req signRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	treasuryID, id := r.PathValue("treasury"), r.PathValue("id")
	p, added, err := a.spends.AddSignature(r.Context(), treasuryID, id, req.MemberID, req.PublicKey, req.SignedEnvelope)
	if err != nil {
		return err
	}
	if p.Status == spend.StatusCollecting && spend.HasQuorum(p) {
		if p, err = a.spends.FinalizeSubmit(r.Context(), treasuryID, id); err != nil {
			return err
		}
	}
	JSONResp(w, http.StatusOK, struct {
		Added bool      `json:"added"`
		Spend spendView `json:"spend"`
	}{
		Added: added,
		Spend: newSpendView(p),
	})
	return nil
}

func (a *app) submitSpend(w http.ResponseWriter, r *http.Request) error {
	p, err := a.spends.FinalizeSubmit(r.Context(), r.PathValue("treasury"), r.PathValue("id"))
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusOK, newSpendView(p))
	return nil
}

type cancelRequest struct {
	MemberID string `json:"member_id"`
}

func (a *app) cancelSpend(w http.ResponseWriter, r *http.Request) error {
	var req cancelRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	p, err := a.spends.Cancel(r.Context(), r.PathValue("treasury"), r.PathValue("id"), req.MemberID)
	if err != nil {
		return err
	}
	JSONResp(w, http.StatusOK, newSpendView(p))
	return nil
}

// treasury loads the treasury named in the request path.
func (a *app) treasury(r *http.Request) (*treasury.Config, error) {
	id := r.PathValue("treasury")
	cfg, err := a.treasuries.Get(id)
	if errors.ErrNotFound.Is(err) {
		return nil, errors.Wrapf(spend.ErrNoTreasury, "treasury %q", id)
	}
	return cfg, err
}

// member returns ErrUnauthorized unless given member is one of the
// configured signers of the treasury.
func member(cfg *treasury.Config, memberID string) error {
	for _, id := range cfg.SignerIDs() {
		if id == memberID {
			return nil
		}
	}
	return errors.Wrapf(errors.ErrUnauthorized, "member %q is not a signer of %s", memberID, cfg.TreasuryID)
}

func decode(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return errors.Wrapf(errors.ErrInput, "cannot decode request: %s", err)
	}
	return nil
}

type treasuryView struct {
	TreasuryID          string    `json:"treasury_id"`
	PublicKey           string    `json:"public_key"`
	AdminID             string    `json:"admin_id"`
	MicroThresholdCents int64     `json:"micro_threshold_cents"`
	AdditionalSignerIDs []string  `json:"additional_signer_ids"`
	RequiredApprovals   uint32    `json:"required_approvals"`
	TotalSigners        uint32    `json:"total_signers"`
	CreatedAt           time.Time `json:"created_at"`
}

func newTreasuryView(c *treasury.Config) treasuryView {
	return treasuryView{
		TreasuryID:          c.TreasuryID,
		PublicKey:           c.PublicKey,
		AdminID:             c.AdminID,
		MicroThresholdCents: c.MicroThresholdCents,
		AdditionalSignerIDs: c.AdditionalSignerIDs,
		RequiredApprovals:   c.Multisig.RequiredApprovals,
		TotalSigners:        c.Multisig.TotalSigners,
		CreatedAt:           c.CreatedAt.Time(),
	}
}

type challengeView struct {
	Hash      string    `json:"hash"`
	Envelope  string    `json:"envelope"`
	Server    string    `json:"server"`
	ExpiresAt time.Time `json:"expires_at"`
}

type signerView struct {
	MemberID   string    `json:"member_id"`
	PublicKey  string    `json:"public_key"`
	VerifiedAt time.Time `json:"verified_at"`
}

func newSignerView(s *signers.Signer) signerView {
	return signerView{
		MemberID:   s.MemberID,
		PublicKey:  s.PublicKey,
		VerifiedAt: s.VerifiedAt.Time(),
	}
}

type spendView struct {
	ID                 string    `json:"id"`
	TreasuryID         string    `json:"treasury_id"`
	ProposerID         string    `json:"proposer_id"`
	Destination        string    `json:"destination"`
	Amount             string    `json:"amount"`
	AmountCents        int64     `json:"amount_cents"`
	Memo               string    `json:"memo,omitempty"`
	Type               string    `json:"type"`
	Status             string    `json:"status"`
	RequiredApprovals  uint32    `json:"required_approvals"`
	Approvals          []string  `json:"approvals"`
	Envelope           string    `json:"envelope"`
	AggregatedEnvelope string    `json:"aggregated_envelope"`
	SubmissionHash     string    `json:"submission_hash,omitempty"`
	Error              string    `json:"error,omitempty"`
	Title              string    `json:"title,omitempty"`
	Description        string    `json:"description,omitempty"`
	RecipientID        string    `json:"recipient_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	ExpiresAt          time.Time `json:"expires_at"`
}

func newSpendView(p *spend.PendingSpend) spendView {
	approvals := make([]string, 0, len(p.Approvals))
	for _, ap := range p.Approvals {
		approvals = append(approvals, ap.MemberID)
	}
	return spendView{
		ID:                 p.ID,
		TreasuryID:         p.TreasuryID,
		ProposerID:         p.ProposerID,
		Destination:        p.Destination,
		Amount:             p.AmountString(),
		AmountCents:        p.AmountCents,
		Memo:               p.Memo,
		Type:               string(p.Type),
		Status:             string(p.Status),
		RequiredApprovals:  p.RequiredApprovals,
		Approvals:          approvals,
		Envelope:           p.BaseEnvelope,
		AggregatedEnvelope: p.AggregatedEnvelope,
		SubmissionHash:     p.SubmissionHash,
		Error:              p.Error,
		Title:              p.Title,
		Description:        p.Description,
		RecipientID:        p.RecipientID,
		CreatedAt:          p.CreatedAt.Time(),
		ExpiresAt:          p.ExpiresAt.Time(),
	}
}

func newSpendViews(list []*spend.PendingSpend) []spendView {
	views := make([]spendView, 0, len(list))
	for _, p := range list {
		views = append(views, newSpendView(p))
	}
	return views
}

// JSONResp write content as JSON encoded response.
func JSONResp(w http.ResponseWriter, code int, content interface{}) {
	b, err := json.MarshalIndent(content, "", "\t")
	if err != nil {
		code = http.StatusInternalServerError
		b = []byte(`{"errors":["Internal Server Error"]}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

// JSONErr write single error as JSON encoded response.
func JSONErr(w http.ResponseWriter, code int, errText string) {
	JSONResp(w, code, struct {
		Errors []string `json:"errors"`
	}{
		Errors: []string{errText},
	})
}
