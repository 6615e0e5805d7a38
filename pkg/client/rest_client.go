package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakegate/stakegate/internal/rpc"
	"github.com/stakegate/stakegate/internal/types"
	"github.com/stakegate/stakegate/pkg/errkind"
)

const (
	transactionsPath = "api/v1/transactions"
	roundNumberPath  = "api/v1/round-number"
	candidatesPath   = "api/v1/candidates"
	balancesPath     = "api/v1/balances"
	allowancesPath   = "api/v1/allowances"
	infoPath         = "api/v1/info"

	defaultScheme   = "http://"
	contentType     = "Content-Type"
	applicationCbor = "application/cbor"
)

// RestClient talks to a node's REST API. Provider level failures (rate
// limiting, gateway errors, transport faults) come back classified as
// transient so the caller's retry policy can pick them up.
type RestClient struct {
	baseURL    *url.URL
	httpClient http.Client
}

var _ ChainClient = (*RestClient)(nil)

func NewRestClient(baseURL string) (*RestClient, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = defaultScheme + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing node base URL (%s): %w", baseURL, err)
	}
	return &RestClient{
		baseURL:    u,
		httpClient: http.Client{Timeout: time.Minute},
	}, nil
}

func (c *RestClient) SubmitTransaction(ctx context.Context, txo *types.TransactionOrder) (common.Hash, error) {
	body, err := txo.Bytes()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encoding transaction order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath(transactionsPath).String(), bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to build submit transaction request: %w", err)
	}
	req.Header.Set(contentType, applicationCbor)
	response := &rpc.SubmitTxResponse{}
	if err := c.do(req, http.StatusAccepted, response); err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(response.TxHash), nil
}

func (c *RestClient) GetReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	response := &rpc.ReceiptVM{}
	err := c.get(ctx, c.baseURL.JoinPath(transactionsPath, txHash.Hex(), "receipt").String(), response)
	if err != nil {
		var statusErr *statusError
		if errors.As(err, &statusErr) && statusErr.code == http.StatusNotFound {
			return nil, nil // still pending
		}
		return nil, err
	}
	return receiptFromVM(response)
}

func (c *RestClient) GetRoundNumber(ctx context.Context) (uint64, error) {
	response := &rpc.RoundNumberResponse{}
	if err := c.get(ctx, c.baseURL.JoinPath(roundNumberPath).String(), response); err != nil {
		return 0, err
	}
	return response.RoundNumber, nil
}

func (c *RestClient) GetEvents(ctx context.Context, candidate common.Address, fromBlock uint64) ([]*types.Event, error) {
	u := c.baseURL.JoinPath(candidatesPath, candidate.Hex(), "events")
	q := u.Query()
	q.Set("fromBlock", strconv.FormatUint(fromBlock, 10))
	u.RawQuery = q.Encode()
	response := &rpc.EventsResponse{}
	if err := c.get(ctx, u.String(), response); err != nil {
		return nil, err
	}
	events := make([]*types.Event, 0, len(response.Events))
	for _, vm := range response.Events {
		event, err := eventFromVM(vm)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// GetInfo returns the node's chain and ledger parameters. Not part of the
// ChainClient interface, callers that want to discover the ledger address and
// stake amount instead of configuring them use this directly.
func (c *RestClient) GetInfo(ctx context.Context) (*rpc.InfoResponse, error) {
	response := &rpc.InfoResponse{}
	if err := c.get(ctx, c.baseURL.JoinPath(infoPath).String(), response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *RestClient) LedgerDeployed(ctx context.Context, addr common.Address) (bool, error) {
	response := &rpc.InfoResponse{}
	if err := c.get(ctx, c.baseURL.JoinPath(infoPath).String(), response); err != nil {
		return false, err
	}
	return common.HexToAddress(response.LedgerAddress) == addr, nil
}

func (c *RestClient) ChainID(ctx context.Context) (uint64, error) {
	response := &rpc.InfoResponse{}
	if err := c.get(ctx, c.baseURL.JoinPath(infoPath).String(), response); err != nil {
		return 0, err
	}
	return response.ChainID, nil
}

func (c *RestClient) StakeOf(ctx context.Context, candidate common.Address) (*uint256.Int, error) {
	return c.amount(ctx, c.baseURL.JoinPath(candidatesPath, candidate.Hex(), "stake").String())
}

func (c *RestClient) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	return c.amount(ctx, c.baseURL.JoinPath(balancesPath, addr.Hex()).String())
}

func (c *RestClient) AllowanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	return c.amount(ctx, c.baseURL.JoinPath(allowancesPath, addr.Hex()).String())
}

func (c *RestClient) amount(ctx context.Context, url string) (*uint256.Int, error) {
	response := &rpc.AmountResponse{}
	if err := c.get(ctx, url, response); err != nil {
		return nil, err
	}
	return parseAmount(response.Amount)
}

func (c *RestClient) get(ctx context.Context, url string, response any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, http.StatusOK, response)
}

func (c *RestClient) do(req *http.Request, wantStatus int, response any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Transient, fmt.Errorf("request %s failed: %w", req.URL.Path, err))
	}
	defer res.Body.Close()
	if res.StatusCode != wantStatus {
		return responseError(req, res)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return errkind.Wrap(errkind.Transient, fmt.Errorf("failed to read %s response: %w", req.URL.Path, err))
	}
	if err := json.Unmarshal(data, response); err != nil {
		return fmt.Errorf("failed to unmarshal %s response: %w", req.URL.Path, err)
	}
	return nil
}

type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected response status code %d: %s", e.code, e.message)
}

func responseError(req *http.Request, res *http.Response) error {
	message := ""
	if data, err := io.ReadAll(io.LimitReader(res.Body, 4096)); err == nil {
		errorResponse := &rpc.ErrorResponse{}
		if json.Unmarshal(data, errorResponse) == nil {
			message = errorResponse.Message
		} else {
			message = string(data)
		}
	}
	err := &statusError{code: res.StatusCode, message: message}
	if res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= http.StatusInternalServerError {
		return errkind.Wrap(errkind.Transient, err)
	}
	return err
}

func receiptFromVM(vm *rpc.ReceiptVM) (*types.Receipt, error) {
	return &types.Receipt{
		TxHash:       common.HexToHash(vm.TxHash),
		Status:       types.TxStatus(vm.Status),
		From:         common.HexToAddress(vm.From),
		To:           common.HexToAddress(vm.To),
		BlockNumber:  vm.BlockNumber,
		RevertReason: vm.RevertReason,
	}, nil
}

func eventFromVM(vm *rpc.EventVM) (*types.Event, error) {
	amount, err := parseAmount(vm.Amount)
	if err != nil {
		return nil, err
	}
	return &types.Event{
		Name:        vm.Name,
		Candidate:   common.HexToAddress(vm.Candidate),
		Amount:      amount,
		BlockNumber: vm.BlockNumber,
		TxHash:      common.HexToHash(vm.TxHash),
	}, nil
}

func parseAmount(s string) (*uint256.Int, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount string %q to base 10 conversion failed", s)
	}
	amount, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("amount %q overflows 256 bits", s)
	}
	return amount, nil
}
