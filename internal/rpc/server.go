// Package rpc exposes the pool over a JSON HTTP API.
//
// Write endpoints accept hex-encoded wire blobs and return the resulting
// event; read endpoints serve the public state clients need to build
// mirrors and proofs. Secrets never cross this boundary.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opaque/core/internal/association"
	"github.com/opaque/core/internal/p2p"
	"github.com/opaque/core/internal/pool"
	"github.com/opaque/core/internal/vault"
	"github.com/opaque/core/internal/zkproof"
	"github.com/opaque/core/pkg/common"
	"github.com/opaque/core/pkg/types"
)

// Broadcaster publishes accepted events to the gossip network
type Broadcaster interface {
	BroadcastDeposit(data []byte) error
	BroadcastWithdraw(data []byte) error
	BroadcastAssociationRoot(data []byte) error
}

// Server serves the pool's HTTP API
type Server struct {
	pool        *pool.Pool
	broadcaster Broadcaster
	httpServer  *http.Server
}

// NewServer creates a server for a pool. broadcaster may be nil for nodes
// that do not gossip.
func NewServer(addr string, p *pool.Pool, broadcaster Broadcaster) *Server {
	s := &Server{
		pool:        p,
		broadcaster: broadcaster,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/deposit", s.handleDeposit)
	mux.HandleFunc("/v1/withdraw", s.handleWithdraw)
	mux.HandleFunc("/v1/association/root", s.handleAssociationRoot)
	mux.HandleFunc("/v1/root", s.handleRoot)
	mux.HandleFunc("/v1/commitments", s.handleCommitments)
	mux.HandleFunc("/v1/nullifiers", s.handleNullifiers)
	mux.HandleFunc("/v1/status", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe starts serving; it blocks until the server stops
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type depositRequest struct {
	Depositor  string `json:"depositor"`
	Commitment string `json:"commitment"`
}

type depositResponse struct {
	LeafIndex uint32 `json:"leafIndex"`
	Root      string `json:"root"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	depositor, err := types.AddressFromHex(req.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commitment, err := hashFromHex(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	event, err := s.pool.Deposit(r.Context(), depositor, commitment)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.BroadcastDeposit(p2p.EncodeDepositEvent(event)); err != nil {
			fmt.Printf("Warning: deposit broadcast failed: %v\n", err)
		}
	}

	root, err := s.pool.Root(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		LeafIndex: event.LeafIndex,
		Root:      root.Hex(),
	})
}

type withdrawRequest struct {
	Recipient string `json:"recipient"`
	Proof     string `json:"proof"`
	Signals   string `json:"signals"`
}

type withdrawResponse struct {
	NullifierHash string `json:"nullifierHash"`
	Value         uint64 `json:"value"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("POST required"))
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	recipient, err := types.AddressFromHex(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proofBytes, err := common.HexToBytes(req.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid proof hex: %w", err))
		return
	}
	signalsBytes, err := common.HexToBytes(req.Signals)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid signals hex: %w", err))
		return
	}

	event, err := s.pool.Withdraw(r.Context(), recipient, proofBytes, signalsBytes)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if s.broadcaster != nil {
		if err := s.broadcaster.BroadcastWithdraw(p2p.EncodeWithdrawEvent(event)); err != nil {
			fmt.Printf("Warning: withdraw broadcast failed: %v\n", err)
		}
	}

	writeJSON(w, http.StatusOK, withdrawResponse{
		NullifierHash: event.NullifierHash.Hex(),
		Value:         event.Value,
	})
}

type setAssociationRootRequest struct {
	Caller string `json:"caller"`
	Root   string `json:"root"`
}

type associationRootResponse struct {
	Root string `json:"root"`
}

func (s *Server) handleAssociationRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		root, err := s.pool.AssociationRoot()
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, associationRootResponse{Root: root.Hex()})

	case http.MethodPost:
		var req setAssociationRootRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		caller, err := types.AddressFromHex(req.Caller)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		root, err := hashFromHex(req.Root)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		if err := s.pool.SetAssociationRoot(r.Context(), caller, root); err != nil {
			writeError(w, statusFor(err), err)
			return
		}

		if s.broadcaster != nil {
			if err := s.broadcaster.BroadcastAssociationRoot(p2p.EncodeAssociationRoot(root)); err != nil {
				fmt.Printf("Warning: association broadcast failed: %v\n", err)
			}
		}
		writeJSON(w, http.StatusOK, associationRootResponse{Root: root.Hex()})

	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("GET or POST required"))
	}
}

type rootResponse struct {
	Root string `json:"root"`
	Size uint64 `json:"size"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	root, err := s.pool.Root(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rootResponse{Root: root.Hex(), Size: s.pool.Size()})
}

type commitmentsResponse struct {
	Commitments []string `json:"commitments"`
}

func (s *Server) handleCommitments(w http.ResponseWriter, r *http.Request) {
	commitments, err := s.pool.Commitments(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]string, len(commitments))
	for i, c := range commitments {
		out[i] = c.Hex()
	}
	writeJSON(w, http.StatusOK, commitmentsResponse{Commitments: out})
}

type nullifiersResponse struct {
	Nullifiers []string `json:"nullifiers"`
}

func (s *Server) handleNullifiers(w http.ResponseWriter, r *http.Request) {
	nullifiers, err := s.pool.Nullifiers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]string, len(nullifiers))
	for i, n := range nullifiers {
		out[i] = n.Hex()
	}
	writeJSON(w, http.StatusOK, nullifiersResponse{Nullifiers: out})
}

type statusResponse struct {
	Size        uint64 `json:"size"`
	Depth       int    `json:"depth"`
	Balance     uint64 `json:"balance"`
	FixedAmount uint64 `json:"fixedAmount"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Size:        s.pool.Size(),
		Depth:       s.pool.Depth(),
		Balance:     s.pool.Balance(),
		FixedAmount: s.pool.FixedAmount(),
	})
}

// statusFor maps pool errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, zkproof.ErrInvalidProofShape),
		errors.Is(err, types.ErrInvalidFieldElement),
		errors.Is(err, vault.ErrZeroAmount):
		return http.StatusBadRequest
	case errors.Is(err, association.ErrOnlyAuthority):
		return http.StatusForbidden
	case errors.Is(err, pool.ErrNullifierAlreadyUsed),
		errors.Is(err, pool.ErrStateRootMismatch),
		errors.Is(err, pool.ErrAssociationMismatch),
		errors.Is(err, association.ErrAssociationNotConfigured),
		errors.Is(err, pool.ErrPoolFull):
		return http.StatusConflict
	case errors.Is(err, zkproof.ErrProofInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrInsufficientBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Printf("Warning: response encode failed: %v\n", err)
	}
}

// hashFromHex parses a 0x-prefixed or bare 32-byte hex field element
func hashFromHex(s string) (types.Hash, error) {
	b, err := common.HexToBytes(s)
	if err != nil {
		return types.EmptyHash, fmt.Errorf("%w: %v", types.ErrInvalidFieldElement, err)
	}
	return types.HashFromBytes(b)
}
