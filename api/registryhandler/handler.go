// Package registryhandler serves the registry contract over HTTP.
//
// Mutations arrive as SignedTransaction values: the node recovers the
// sender from the signature, checks the nonce and executes the call as one
// registry transaction. Reads are plain GET endpoints.
package registryhandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/encrypted-db-registry/api"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/ruteri/encrypted-db-registry/metrics"
	"github.com/ruteri/encrypted-db-registry/registry"
	"github.com/ruteri/encrypted-db-registry/state"
)

const (
	BasePath = "/api/registry"
	TxPath   = BasePath + "/tx"
	InfoPath = BasePath + "/info"
)

// MaxEventsPerRequest caps the events returned by one /events call.
const MaxEventsPerRequest = 1000

// Handler exposes a registry.Contract.
type Handler struct {
	contract *registry.Contract
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewHandler creates a registry handler. m may be nil.
func NewHandler(contract *registry.Contract, m *metrics.Metrics, log *slog.Logger) *Handler {
	return &Handler{
		contract: contract,
		metrics:  m,
		log:      log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post(TxPath, h.HandleTransaction)
	r.Get(InfoPath, h.HandleInfo)
	r.Get(BasePath+"/databases/{id}", h.HandleGetDatabase)
	r.Get(BasePath+"/databases/{id}/address", h.HandleGetEncryptedAddress)
	r.Get(BasePath+"/databases/{id}/entries/{index}", h.HandleGetEntry)
	r.Get(BasePath+"/owners/{account}/databases", h.HandleGetOwnedDatabases)
	r.Get(BasePath+"/accounts/{account}/nonce", h.HandleGetNonce)
	r.Get(BasePath+"/events", h.HandleEvents)
}

// HandleTransaction executes a signed registry transaction.
//
// URL format: POST /api/registry/tx
// Request body: SignedTransaction
// Response: TxResponse with the receipt and the emitted events
func (h *Handler) HandleTransaction(w http.ResponseWriter, r *http.Request) {
	var tx SignedTransaction
	if err := api.DecodeJSON(r, &tx); err != nil {
		api.WriteError(w, h.log, err, "could not parse transaction")
		return
	}

	if err := tx.VerifySender(h.contract.ChainID(), h.contract.Address()); err != nil {
		api.WriteError(w, h.log, err, "could not authenticate transaction")
		return
	}

	resp, err := h.execute(r.Context(), &tx)
	h.metrics.RecordTransaction(tx.Method, err)
	if err != nil {
		api.WriteError(w, h.log, err, fmt.Sprintf("%s reverted", tx.Method))
		return
	}

	api.WriteJSON(w, http.StatusOK, resp)
}

func decodeParams(tx *SignedTransaction, params any) error {
	if err := json.Unmarshal(tx.Params, params); err != nil {
		return fmt.Errorf("%w: %s params: %w", api.ErrMalformedRequest, tx.Method, err)
	}
	return nil
}

func (h *Handler) execute(ctx context.Context, tx *SignedTransaction) (*TxResponse, error) {
	txCtx := registry.TxContext{From: tx.From, Nonce: &tx.Nonce}

	switch tx.Method {
	case registry.MethodCreateDatabase:
		var p CreateDatabaseParams
		if err := decodeParams(tx, &p); err != nil {
			return nil, err
		}
		id, receipt, err := h.contract.CreateDatabase(ctx, txCtx, p.Name, p.EncryptedAddress, p.InputProof)
		if err != nil {
			return nil, err
		}
		return &TxResponse{Receipt: receipt, DatabaseID: &id}, nil

	case registry.MethodStoreEncryptedValue:
		var p StoreEncryptedValueParams
		if err := decodeParams(tx, &p); err != nil {
			return nil, err
		}
		index, receipt, err := h.contract.StoreEncryptedValue(ctx, txCtx, p.DatabaseID, p.EncryptedValue, p.EncryptedAddress, p.InputProof)
		if err != nil {
			return nil, err
		}
		return &TxResponse{Receipt: receipt, EntryIndex: &index}, nil

	case registry.MethodShareEncryptedValue:
		var p ShareEncryptedValueParams
		if err := decodeParams(tx, &p); err != nil {
			return nil, err
		}
		receipt, err := h.contract.ShareEncryptedValue(ctx, txCtx, p.DatabaseID, p.EntryIndex, p.Target)
		if err != nil {
			return nil, err
		}
		return &TxResponse{Receipt: receipt}, nil

	case registry.MethodRefreshAddressAccess:
		var p RefreshAddressAccessParams
		if err := decodeParams(tx, &p); err != nil {
			return nil, err
		}
		receipt, err := h.contract.RefreshAddressAccess(ctx, txCtx, p.DatabaseID, p.Target)
		if err != nil {
			return nil, err
		}
		return &TxResponse{Receipt: receipt}, nil

	default:
		return nil, fmt.Errorf("%w: %q", interfaces.ErrUnsupportedMethod, tx.Method)
	}
}

// HandleInfo returns the registry deployment and its progress.
//
// URL format: GET /api/registry/info
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	block, err := h.contract.BlockNumber(r.Context())
	if err != nil {
		api.WriteError(w, h.log, err, "could not load block number")
		return
	}
	count, err := h.contract.DatabaseCount(r.Context())
	if err != nil {
		api.WriteError(w, h.log, err, "could not load database count")
		return
	}

	api.WriteJSON(w, http.StatusOK, InfoResponse{
		Address:       h.contract.Address(),
		ChainID:       h.contract.ChainID(),
		BlockNumber:   block,
		DatabaseCount: count,
	})
}

func uintParam(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", api.ErrMalformedRequest, name, err)
	}
	return v, nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	v := chi.URLParam(r, name)
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: invalid %s %q", api.ErrMalformedRequest, name, v)
	}
	return common.HexToAddress(v), nil
}

// HandleGetDatabase returns database metadata.
//
// URL format: GET /api/registry/databases/{id}
func (h *Handler) HandleGetDatabase(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		api.WriteError(w, h.log, err, "could not parse request")
		return
	}

	metadata, err := h.contract.GetDatabase(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.log, err, "could not load database")
		return
	}
	api.WriteJSON(w, http.StatusOK, metadata)
}

// HandleGetEncryptedAddress returns the encrypted address handle of a database.
//
// URL format: GET /api/registry/databases/{id}/address
func (h *Handler) HandleGetEncryptedAddress(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		api.WriteError(w, h.log, err, "could not parse request")
		return
	}

	handle, err := h.contract.GetEncryptedAddress(r.Context(), id)
	if err != nil {
		api.WriteError(w, h.log, err, "could not load encrypted address")
		return
	}
	api.WriteJSON(w, http.StatusOK, AddressResponse{Handle: handle})
}

// HandleGetEntry returns one stored entry.
//
// URL format: GET /api/registry/databases/{id}/entries/{index}
func (h *Handler) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		api.WriteError(w, h.log, err, "could not parse request")
		return
	}
	index, err := uintParam(r, "index")
	if err != nil {
		api.WriteError(w, h.log, err, "could not parse request")
		return
	}

	entry, err := h.contract.GetEntry(r.Context(), id, index)
	if err != nil {
		api.WriteError(w, h.log, err, "could not load entry")
		return
	}
	api.WriteJSON(w, http.StatusOK, entry)
}

// HandleGetOwnedDatabases lists the databases created by an account.
//
// URL format: GET /api/registry/owners/{account}/databases
func (h *Handler) HandleGetOwnedDatabases(w http.ResponseWriter, r *http.Request) {
	owner, err := addressParam(r, "account")
	if err != nil {
		api.WriteError(w, h.log, err, "could not parse request")
		return
	}

	ids, err := h.contract.GetOwnedDatabases(r.Context(), owner)
	if err != nil {
		api.WriteError(w, h.log, err, "could not load owned databases")
		return
	}
	api.WriteJSON(w, http.StatusOK, OwnedDatabasesResponse{Owner: owner, Databases: ids})
}

// HandleGetNonce returns the nonce the next transaction of an account must carry.
//
// URL format: GET /api/registry/accounts/{account}/nonce
func (h *Handler) HandleGetNonce(w http.ResponseWriter, r *http.Request) {
	account, err := addressParam(r, "account")
	if err != nil {
		api.WriteError(w, h.log, err, "could not parse request")
		return
	}

	nonce, err := h.contract.Nonce(r.Context(), account)
	if err != nil {
		api.WriteError(w, h.log, err, "could not load nonce")
		return
	}
	api.WriteJSON(w, http.StatusOK, NonceResponse{Account: account, Nonce: nonce})
}

// HandleEvents returns registry events in emission order.
//
// URL format: GET /api/registry/events?from=<seq>&database=<id>&limit=<n>
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		api.WriteError(w, h.log, err, "could not parse request")
		return
	}

	events, err := h.contract.Events(r.Context(), filter)
	if err != nil {
		api.WriteError(w, h.log, err, "could not load events")
		return
	}
	api.WriteJSON(w, http.StatusOK, events)
}

func parseEventFilter(r *http.Request) (state.EventFilter, error) {
	query := r.URL.Query()
	filter := state.EventFilter{Limit: MaxEventsPerRequest}

	if v := query.Get("from"); v != "" {
		from, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid from: %v", api.ErrMalformedRequest, err)
		}
		filter.FromSeq = from
	}
	if v := query.Get("database"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("%w: invalid database: %v", api.ErrMalformedRequest, err)
		}
		filter.DatabaseID = &id
	}
	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("%w: invalid limit %q", api.ErrMalformedRequest, v)
		}
		filter.Limit = min(limit, MaxEventsPerRequest)
	}
	return filter, nil
}
