package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"smartmint/internal/auth"
	"smartmint/internal/errkind"
	"smartmint/internal/idempotency"
	"smartmint/internal/session"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"

var errInvalidBody = errors.New("invalid json payload")

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	tab := s.tab(r)
	writeJSON(w, http.StatusOK, struct {
		session.Snapshot
		MintInFlight bool `json:"mintInFlight"`
	}{tab.Session.Snapshot(), tab.Workflow.InFlight()})
}

// handleResetSession logs the tab out. The tab itself is dropped unless a
// mint is still running on it.
func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	tab := s.tab(r)
	tab.Session.Reset()
	snap := tab.Session.Snapshot()
	s.deps.Sessions.Remove(r.Header.Get(HeaderSessionID))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	tab := s.tab(r)
	tab.Session.ClearError()
	writeJSON(w, http.StatusOK, tab.Session.Snapshot())
}

type connectResponse struct {
	EOA     *common.Address  `json:"eoa"`
	Session session.Snapshot `json:"session"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	tab := s.tab(r)
	eoa, err := tab.Session.ConnectEOA(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, connectResponse{EOA: eoa, Session: tab.Session.Snapshot()})
}

type createAccountRequest struct {
	Owner string `json:"owner"`
}

type accountResponse struct {
	Owner      common.Address `json:"owner"`
	Account    common.Address `json:"account"`
	AccountURL string         `json:"accountUrl"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var payload createAccountRequest
	if err := decodeOptional(r, &payload); err != nil {
		writeError(w, err)
		return
	}

	tab := s.tab(r)
	var owner common.Address
	switch {
	case payload.Owner != "":
		addr, err := parseAddress(payload.Owner)
		if err != nil {
			writeError(w, err)
			return
		}
		owner = addr
	case tab.Session.Snapshot().Owner != nil:
		owner = *tab.Session.Snapshot().Owner
	default:
		if eoa := tab.Session.CurrentEOA(r.Context()); eoa != nil {
			owner = *eoa
		}
	}

	acc, err := tab.Session.CreateSmartAccount(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Owner:      acc.Owner(),
		Account:    acc.Address(),
		AccountURL: s.deps.Links.Address(acc.Address()),
	})
}

func (s *Server) handleLatestMint(w http.ResponseWriter, r *http.Request) {
	latest := s.tab(r).Workflow.Latest()
	if latest == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no mint attempt yet", Kind: errkind.Unknown})
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !auth.Authenticated(ctx) {
		writeUnauthenticated(w)
		return
	}
	sessionID := normalizeSessionID(r.Header.Get(HeaderSessionID))
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))

	var fingerprint string
	if key != "" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, errInvalidBody)
			return
		}
		fingerprint = idempotency.Fingerprint(sessionID, r.Method, r.URL.Path, string(body))
		storeKey := "mint:" + sessionID + ":" + key
		existing, err := s.deps.Store.Get(ctx, storeKey)
		if err != nil {
			s.logger.Warn("idempotency lookup failed", zap.String("key", key), zap.Error(err))
		}
		if existing != nil {
			if existing.RequestHash != "" && existing.RequestHash != fingerprint {
				writeError(w, idempotency.ErrKeyReused)
				return
			}
			s.deps.Metrics.IncReplay()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(existing.StatusCode)
			_, _ = w.Write(existing.Response)
			return
		}
		key = storeKey
	}

	attempt, err := s.tab(r).Workflow.Start(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("mint started",
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("session", sessionID),
		zap.String("attempt", attempt.ID))

	body, _ := json.Marshal(attempt)
	if key != "" {
		now := s.now()
		record := idempotency.Record{
			StatusCode:  http.StatusAccepted,
			Response:    body,
			RequestHash: fingerprint,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
		}
		if err := s.deps.Store.Save(ctx, key, record); err != nil {
			s.logger.Warn("idempotency save failed", zap.String("key", key), zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write(body)
}

type grantRequest struct {
	Target string `json:"target"`
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	if !auth.Authenticated(r.Context()) {
		writeUnauthenticated(w)
		return
	}
	var payload grantRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, errInvalidBody)
		return
	}
	target, err := parseAddress(payload.Target)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.tab(r).Workflow.GrantMinterRole(r.Context(), target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type nftResponse struct {
	Contract      common.Address `json:"contract"`
	Owner         common.Address `json:"owner"`
	Balance       uint64         `json:"balance"`
	BaseURI       *string        `json:"baseURI"`
	Image         string         `json:"image"`
	ContractURL   string         `json:"contractUrl"`
	OwnerURL      string         `json:"ownerUrl"`
	LastFetchedAt time.Time      `json:"lastFetchedAt"`
}

// handleNFT reports the collection data for ?owner=, defaulting to the
// session's smart account.
func (s *Server) handleNFT(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var owner common.Address
	if raw := r.URL.Query().Get("owner"); raw != "" {
		addr, err := parseAddress(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		owner = addr
	} else {
		acc, ok := s.tab(r).Session.Account()
		if !ok {
			writeError(w, errkind.New(errkind.NoSmartAccount, "read nft", nil))
			return
		}
		owner = acc.Address()
	}

	contract, err := s.contractFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := nftResponse{
		Contract:      contract,
		Owner:         owner,
		Balance:       s.deps.Reader.ReadBalance(ctx, contract, owner),
		Image:         s.cfg.Chain.DefaultImage,
		ContractURL:   s.deps.Links.Address(contract),
		OwnerURL:      s.deps.Links.Address(owner),
		LastFetchedAt: s.now().UTC(),
	}
	if uri, ok := s.deps.Reader.ReadBaseURI(ctx, contract); ok {
		resp.BaseURI = &uri
		resp.Image = uri
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	contract, err := s.contractFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Inspector.Inspect(r.Context(), contract))
}

// contractFromQuery uses ?contract= when given and otherwise resolves the
// first working candidate.
func (s *Server) contractFromQuery(r *http.Request) (common.Address, error) {
	if raw := r.URL.Query().Get("contract"); raw != "" {
		return parseAddress(raw)
	}
	return s.deps.Resolver.ResolveContract(r.Context(), s.cfg.Mint.Candidates)
}

// decodeOptional accepts an empty body.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errInvalidBody
}
