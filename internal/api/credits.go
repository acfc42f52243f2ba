package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"dust-sweeper/internal/credits"
	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/evm"
)

// WebhookDeposit is the only accepted webhook event type.
const WebhookDeposit = "deposit"

// WebhookBody is the POST /api/credits/webhook payload.
type WebhookBody struct {
	Type          string `json:"type"`
	WalletAddress string `json:"walletAddress"`
	TxHash        string `json:"txHash"`
	Amount        string `json:"amount"` // raw USDC micro-units
	Signature     string `json:"signature"`
}

// SignWebhook returns the hex HMAC-SHA256 of the webhook fields.
func SignWebhook(secret []byte, b WebhookBody) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join([]string{b.Type, b.WalletAddress, b.TxHash, b.Amount}, ":")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the body signature in constant time.
func VerifyWebhook(secret []byte, b WebhookBody) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(b.Signature, "0x"))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(SignWebhook(secret, b))
	return hmac.Equal(got, want)
}

// BalanceResponse is returned by the balance endpoint.
type BalanceResponse struct {
	WalletAddress string `json:"walletAddress"`
	BalanceCents  int64  `json:"balanceCents"`
	ExpiresAt     *int64 `json:"expiresAt,omitempty"`
}

// TransactionView is a ledger entry as returned by the history endpoint.
type TransactionView struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	AmountCents  int64   `json:"amountCents"`
	BalanceAfter int64   `json:"balanceAfter"`
	Endpoint     *string `json:"endpoint,omitempty"`
	TxHash       *string `json:"txHash,omitempty"`
	Description  *string `json:"description,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
}

func walletParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet := r.URL.Query().Get("walletAddress")
	if wallet == "" {
		wallet = r.Header.Get(WalletHeader)
	}
	if wallet == "" {
		WriteError(w, http.StatusBadRequest, "walletAddress is required")
		return "", false
	}
	return wallet, true
}

func (s *Server) ledgerError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, credits.ErrInvalidWallet) || errors.Is(err, credits.ErrInvalidAmount) {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("ledger request failed", zap.String("op", op), zap.Error(err))
	WriteError(w, http.StatusInternalServerError, op+" failed")
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}
	bal, err := s.ledger.GetBalance(r.Context(), wallet)
	if err != nil {
		s.ledgerError(w, "balance", err)
		return
	}
	WriteJSON(w, http.StatusOK, BalanceResponse{
		WalletAddress: bal.WalletAddress,
		BalanceCents:  bal.BalanceCents,
		ExpiresAt:     bal.ExpiresAt,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}
	limit, err := intParam(r, "limit", credits.DefaultHistoryLimit)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		WriteError(w, http.StatusBadRequest, "invalid offset")
		return
	}

	txs, err := s.ledger.History(r.Context(), wallet, limit, offset)
	if err != nil {
		s.ledgerError(w, "history", err)
		return
	}
	views := make([]TransactionView, 0, len(txs))
	for _, tx := range txs {
		views = append(views, TransactionView{
			ID:           tx.ID,
			Type:         string(tx.Type),
			AmountCents:  tx.AmountCents,
			BalanceAfter: tx.BalanceAfter,
			Endpoint:     tx.Endpoint,
			TxHash:       tx.TxHash,
			Description:  tx.Description,
			CreatedAt:    tx.CreatedAt,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"transactions": views})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	wallet, ok := walletParam(w, r)
	if !ok {
		return
	}
	st, err := s.ledger.Stats(r.Context(), wallet)
	if err != nil {
		s.ledgerError(w, "stats", err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

func (s *Server) handleDepositAddress(w http.ResponseWriter, _ *http.Request) {
	if s.deposit.Address == "" {
		WriteError(w, http.StatusServiceUnavailable, "deposits are not configured")
		return
	}
	WriteJSON(w, http.StatusOK, s.deposit)
}

// handleWebhook credits a signed deposit notification. With a verifier the
// credited amount is the on-chain transfer, and the claimed wallet must be
// its sender. Replays are answered with success=false, "already processed".
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if len(s.webhookSecret) == 0 {
		WriteError(w, http.StatusServiceUnavailable, "webhook is not configured")
		return
	}
	var body WebhookBody
	if err := ReadJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !VerifyWebhook(s.webhookSecret, body) {
		s.logger.Warn("webhook signature rejected", zap.String("tx_hash", body.TxHash))
		WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if body.Type != WebhookDeposit {
		WriteError(w, http.StatusBadRequest, "unsupported event type "+strconv.Quote(body.Type))
		return
	}

	amount := body.Amount
	if s.verifier != nil {
		dep, err := s.verifier.Verify(r.Context(), body.TxHash)
		if err != nil {
			if isVerificationReject(err) {
				WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Error("deposit verification failed", zap.String("tx_hash", body.TxHash), zap.Error(err))
			WriteError(w, http.StatusBadGateway, "deposit verification unavailable")
			return
		}
		if !domain.SameToken(dep.Wallet, body.WalletAddress) {
			WriteError(w, http.StatusBadRequest, "wallet does not match deposit sender")
			return
		}
		amount = dep.AmountRaw.String()
	}

	res, err := s.ledger.ProcessDepositWebhook(r.Context(), body.WalletAddress, body.TxHash, amount)
	if err != nil {
		s.ledgerError(w, "deposit", err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func isVerificationReject(err error) bool {
	for _, target := range []error{evm.ErrInvalidTxHash, evm.ErrTxNotFound, evm.ErrTxFailed, evm.ErrNoDeposit} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
