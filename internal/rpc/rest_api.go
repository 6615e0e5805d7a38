package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/stakegate/stakegate/internal/chain"
	"github.com/stakegate/stakegate/internal/types"
	"github.com/stakegate/stakegate/pkg/logger"
)

const (
	contentType     = "Content-Type"
	applicationJson = "application/json"
	applicationCbor = "application/cbor"

	maxTxBodySize = 1 << 20
)

type (
	nodeRestAPI struct {
		node *chain.Node
		log  *logger.Logger
	}

	SubmitTxResponse struct {
		TxHash string `json:"txHash"`
	}

	RoundNumberResponse struct {
		RoundNumber uint64 `json:"roundNumber,string"`
	}

	ReceiptVM struct {
		TxHash       string `json:"txHash"`
		Status       int    `json:"status"`
		From         string `json:"from"`
		To           string `json:"to"`
		BlockNumber  uint64 `json:"blockNumber,string"`
		RevertReason string `json:"revertReason,omitempty"`
	}

	EventVM struct {
		Name        string `json:"name"`
		Candidate   string `json:"candidate"`
		Amount      string `json:"amount"`
		BlockNumber uint64 `json:"blockNumber,string"`
		TxHash      string `json:"txHash"`
	}

	EventsResponse struct {
		Events []*EventVM `json:"events"`
	}

	AmountResponse struct {
		Amount string `json:"amount"`
	}

	InfoResponse struct {
		ChainID       uint64 `json:"chainId,string"`
		LedgerAddress string `json:"ledgerAddress"`
		Authority     string `json:"authority"`
		StakeAmount   string `json:"stakeAmount"`
	}

	ErrorResponse struct {
		Message string `json:"message"`
	}
)

func NewRestAPI(node *chain.Node, log *logger.Logger) *nodeRestAPI {
	if log == nil {
		log = logger.NewNop()
	}
	return &nodeRestAPI{node: node, log: log.WithModule("rest")}
}

func (api *nodeRestAPI) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(handlers.CORS(handlers.AllowedHeaders([]string{contentType})))

	apiV1 := apiRouter.PathPrefix("/v1").Subrouter()
	apiV1.HandleFunc("/transactions", api.submitTx).Methods(http.MethodPost)
	apiV1.HandleFunc("/round-number", api.roundNumber).Methods(http.MethodGet)
	apiV1.HandleFunc("/transactions/{txHash}/receipt", api.receipt).Methods(http.MethodGet)
	apiV1.HandleFunc("/candidates/{address}/events", api.events).Methods(http.MethodGet)
	apiV1.HandleFunc("/candidates/{address}/stake", api.stakeOf).Methods(http.MethodGet)
	apiV1.HandleFunc("/balances/{address}", api.balanceOf).Methods(http.MethodGet)
	apiV1.HandleFunc("/allowances/{address}", api.allowanceOf).Methods(http.MethodGet)
	apiV1.HandleFunc("/info", api.info).Methods(http.MethodGet)

	return router
}

func (api *nodeRestAPI) submitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBodySize))
	if err != nil {
		api.errorResponse(w, http.StatusBadRequest, fmt.Errorf("reading request body: %w", err))
		return
	}
	txo, err := types.DecodeTransactionOrder(body)
	if err != nil {
		api.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	txHash, err := api.node.Submit(txo)
	if err != nil {
		api.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set(contentType, applicationJson)
	w.WriteHeader(http.StatusAccepted)
	api.writeResponse(w, &SubmitTxResponse{TxHash: txHash.Hex()})
}

func (api *nodeRestAPI) roundNumber(w http.ResponseWriter, r *http.Request) {
	api.writeResponse(w, &RoundNumberResponse{RoundNumber: api.node.RoundNumber()})
}

func (api *nodeRestAPI) receipt(w http.ResponseWriter, r *http.Request) {
	txHash, err := parseHash(mux.Vars(r)["txHash"])
	if err != nil {
		api.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", "txHash", err))
		return
	}
	receipt, err := api.node.Receipt(txHash)
	if err != nil {
		api.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	if receipt == nil {
		api.errorResponse(w, http.StatusNotFound, errors.New("receipt not found"))
		return
	}
	api.writeResponse(w, receiptToVM(receipt))
}

func (api *nodeRestAPI) events(w http.ResponseWriter, r *http.Request) {
	candidate, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		api.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", "address", err))
		return
	}
	fromBlock := uint64(0)
	if s := r.URL.Query().Get("fromBlock"); s != "" {
		fromBlock, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			api.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", "fromBlock", err))
			return
		}
	}
	events, err := api.node.Events(candidate, fromBlock)
	if err != nil {
		api.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	response := &EventsResponse{Events: make([]*EventVM, 0, len(events))}
	for _, e := range events {
		response.Events = append(response.Events, eventToVM(e))
	}
	api.writeResponse(w, response)
}

func (api *nodeRestAPI) stakeOf(w http.ResponseWriter, r *http.Request) {
	api.amountOf(w, r, api.node.StakeOf)
}

func (api *nodeRestAPI) balanceOf(w http.ResponseWriter, r *http.Request) {
	api.amountOf(w, r, api.node.BalanceOf)
}

func (api *nodeRestAPI) allowanceOf(w http.ResponseWriter, r *http.Request) {
	api.amountOf(w, r, api.node.AllowanceOf)
}

func (api *nodeRestAPI) amountOf(w http.ResponseWriter, r *http.Request, read func(common.Address) *uint256.Int) {
	addr, err := parseAddress(mux.Vars(r)["address"])
	if err != nil {
		api.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", "address", err))
		return
	}
	api.writeResponse(w, &AmountResponse{Amount: read(addr).ToBig().String()})
}

func (api *nodeRestAPI) info(w http.ResponseWriter, r *http.Request) {
	api.writeResponse(w, &InfoResponse{
		ChainID:       api.node.ChainID(),
		LedgerAddress: api.node.LedgerAddress().Hex(),
		Authority:     api.node.Authority().Hex(),
		StakeAmount:   api.node.StakeAmount().ToBig().String(),
	})
}

func (api *nodeRestAPI) writeResponse(w http.ResponseWriter, data any) {
	w.Header().Set(contentType, applicationJson)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.log.Error("failed to encode response data as json: %v", err)
	}
}

func (api *nodeRestAPI) errorResponse(w http.ResponseWriter, code int, err error) {
	w.Header().Set(contentType, applicationJson)
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(&ErrorResponse{Message: err.Error()}); err != nil {
		api.log.Error("failed to encode error response as json: %v", err)
	}
}

func receiptToVM(r *types.Receipt) *ReceiptVM {
	return &ReceiptVM{
		TxHash:       r.TxHash.Hex(),
		Status:       int(r.Status),
		From:         r.From.Hex(),
		To:           r.To.Hex(),
		BlockNumber:  r.BlockNumber,
		RevertReason: r.RevertReason,
	}
}

func eventToVM(e *types.Event) *EventVM {
	return &EventVM{
		Name:        e.Name,
		Candidate:   e.Candidate.Hex(),
		Amount:      e.Amount.ToBig().String(),
		BlockNumber: e.BlockNumber,
		TxHash:      e.TxHash.Hex(),
	}
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not a valid hex address", s)
	}
	return common.HexToAddress(s), nil
}

func parseHash(s string) (common.Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%q is not a valid 32 byte hex hash", s)
	}
	return common.BytesToHash(b), nil
}
