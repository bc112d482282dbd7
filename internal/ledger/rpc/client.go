package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guess5/match-payout-poc/internal/ledger"
	"github.com/guess5/match-payout-poc/internal/proposal/derive"
)

// Client fala JSON-RPC com o nó do ledger (via provider com rate limit).
// Fronteira de tradução: status HTTP, código JSON-RPC e mensagem viram
// erros da taxonomia fechada — pattern-match em string só acontece aqui.
type Client struct {
	URL       string
	ProgramID string
	HTTP      *http.Client
}

func NewClient(url, programID string, timeout time.Duration) *Client {
	return &Client{
		URL:       url,
		ProgramID: programID,
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call faz o POST JSON-RPC e aplica a tradução de erros de transporte
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %v: %w", method, err, ledger.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%s: http 429: %w", method, ledger.ErrRateLimited)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s: http %s: %w", method, resp.Status, ledger.ErrTransient)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: http %s", method, resp.Status)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("%s: decode: %v: %w", method, err, ledger.ErrTransient)
	}
	if rr.Error != nil {
		return translateRPCError(method, rr.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("%s: result: %w", method, err)
		}
	}
	return nil
}

// translateRPCError mapeia código/mensagem do nó pra taxonomia interna
func translateRPCError(method string, e *rpcError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.Code == -32005 || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return fmt.Errorf("%s: rpc %d %s: %w", method, e.Code, e.Message, ledger.ErrRateLimited)
	case strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists") || strings.Contains(msg, "already processed"):
		return fmt.Errorf("%s: rpc %d %s: %w", method, e.Code, e.Message, ledger.ErrAlreadyExists)
	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient lamports"):
		return fmt.Errorf("%s: rpc %d %s: %w", method, e.Code, e.Message, ledger.ErrInsufficientFunds)
	case strings.Contains(msg, "missing signature") || strings.Contains(msg, "signature verification") || strings.Contains(msg, "invalid signer"):
		return fmt.Errorf("%s: rpc %d %s: %w", method, e.Code, e.Message, ledger.ErrInvalidSigner)
	case strings.Contains(msg, "invalid param") && strings.Contains(msg, "pubkey"):
		return fmt.Errorf("%s: rpc %d %s: %w", method, e.Code, e.Message, ledger.ErrInvalidAddress)
	case e.Code == -32004 || strings.Contains(msg, "node is behind") || strings.Contains(msg, "unhealthy") || strings.Contains(msg, "blockhash not found"):
		return fmt.Errorf("%s: rpc %d %s: %w", method, e.Code, e.Message, ledger.ErrTransient)
	default:
		return fmt.Errorf("%s: rpc %d: %s", method, e.Code, e.Message)
	}
}

type accountInfoResult struct {
	Value *struct {
		Lamports int64    `json:"lamports"`
		Owner    string   `json:"owner"`
		Data     []string `json:"data"` // [base64, "base64"]
	} `json:"value"`
}

// ReadAccount lê a conta crua; value null do nó vira ErrNotFound
func (c *Client) ReadAccount(ctx context.Context, address string) (*ledger.AccountState, error) {
	var res accountInfoResult
	params := []any{address, map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, fmt.Errorf("account %s: %w", address, ledger.ErrNotFound)
	}

	var data []byte
	if len(res.Value.Data) > 0 {
		b, err := base64.StdEncoding.DecodeString(res.Value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("account %s: data: %w", address, err)
		}
		data = b
	}
	return &ledger.AccountState{
		Address:  address,
		Lamports: res.Value.Lamports,
		Owner:    res.Value.Owner,
		Data:     data,
	}, nil
}

type vaultStateResult struct {
	TransactionIndex int64    `json:"transactionIndex"`
	Threshold        int      `json:"threshold"`
	Members          []string `json:"members"`
}

// GetLatestIndex consulta o estado do multisig e devolve o próximo índice
// disponível (índice corrente + 1, contagem começa em 1)
func (c *Client) GetLatestIndex(ctx context.Context, vault string) (int64, error) {
	var res vaultStateResult
	if err := c.call(ctx, "getVaultState", []any{vault}, &res); err != nil {
		return 0, err
	}
	return res.TransactionIndex + 1, nil
}

type vaultTxResult struct {
	Value *struct {
		ProposalID string   `json:"proposalId"`
		Approvals  []string `json:"approvals"`
		Threshold  int      `json:"threshold"`
		Executed   bool     `json:"executed"`
		Signature  string   `json:"executionSignature"`
	} `json:"value"`
}

// ReadTransaction lê a transação do cofre no índice dado. Conta fechada ou
// nunca criada retorna ErrNotFound — o sweep decide o que isso significa.
func (c *Client) ReadTransaction(ctx context.Context, vault string, index int64) (*ledger.TxState, error) {
	proposalID, err := derive.ProposalAddress(vault, index, c.ProgramID)
	if err != nil {
		return nil, err
	}

	var res vaultTxResult
	if err := c.call(ctx, "getVaultTransaction", []any{proposalID}, &res); err != nil {
		return nil, err
	}
	if res.Value == nil {
		return nil, fmt.Errorf("vault tx %s/%d: %w", vault, index, ledger.ErrNotFound)
	}
	return &ledger.TxState{
		VaultAddress: vault,
		Index:        index,
		ProposalID:   proposalID,
		Approvals:    res.Value.Approvals,
		Threshold:    res.Value.Threshold,
		Executed:     res.Value.Executed,
		ExecutionTx:  res.Value.Signature,
	}, nil
}

// SubmitProposal envia a instrução de criação da proposta
func (c *Client) SubmitProposal(ctx context.Context, sub ledger.ProposalSubmission) (string, error) {
	payload := map[string]any{
		"vault":      sub.VaultAddress,
		"index":      sub.Index,
		"proposalId": sub.ProposalID,
		"kind":       sub.Kind,
		"recipients": sub.Recipients,
		"amounts":    sub.Amounts,
		"feeAddress": sub.FeeAddress,
		"feeAmount":  sub.FeeAmount,
		"signer":     sub.Signer,
		"memo":       sub.Memo,
	}
	var sig string
	if err := c.call(ctx, "submitVaultTransaction", []any{payload}, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

type signaturesResult []struct {
	Signature string `json:"signature"`
}

// LastSignature devolve a assinatura mais recente que tocou a conta.
// Melhor esforço: conta sem histórico retorna string vazia, sem erro.
func (c *Client) LastSignature(ctx context.Context, address string) (string, error) {
	var res signaturesResult
	params := []any{address, map[string]any{"limit": 1}}
	if err := c.call(ctx, "getSignaturesForAddress", params, &res); err != nil {
		return "", err
	}
	if len(res) == 0 {
		return "", nil
	}
	return res[0].Signature, nil
}
