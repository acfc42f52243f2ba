package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"dust-sweeper/internal/domain"
	"dust-sweeper/internal/orchestrator"
	"dust-sweeper/internal/quotestore"
	"dust-sweeper/internal/route"
)

// TokenInput is one dust balance in a quote request.
type TokenInput struct {
	Chain    string `json:"chain"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol,omitempty"`
	Decimals int    `json:"decimals"`
	Amount   string `json:"amount"` // raw units
}

// DestinationInput is where swept value should end up.
type DestinationInput struct {
	Chain    string `json:"chain"`
	Token    string `json:"token"`
	Decimals int    `json:"decimals"`
	Protocol string `json:"protocol,omitempty"`
	Vault    string `json:"vault,omitempty"`
}

// QuoteRequestBody is the POST /api/quote payload.
type QuoteRequestBody struct {
	WalletAddress string           `json:"walletAddress"`
	Tokens        []TokenInput     `json:"tokens"`
	Destination   DestinationInput `json:"destination"`
	SlippageBps   int              `json:"slippageBps,omitempty"`
}

// toRequest converts the payload. Chain and amount syntax errors surface
// as validation errors.
func (b QuoteRequestBody) toRequest() (orchestrator.QuoteRequest, error) {
	req := orchestrator.QuoteRequest{
		Wallet:      b.WalletAddress,
		Tokens:      make([]route.TokenAmount, 0, len(b.Tokens)),
		SlippageBps: b.SlippageBps,
	}
	for i, t := range b.Tokens {
		chain, err := domain.ParseChain(t.Chain)
		if err != nil {
			return req, fmt.Errorf("token %d: %w", i, err)
		}
		amount, ok := parseAmount(t.Amount)
		if !ok {
			return req, fmt.Errorf("token %d: %w: %q", i, orchestrator.ErrInvalidAmount, t.Amount)
		}
		req.Tokens = append(req.Tokens, route.TokenAmount{
			Token: domain.TokenRef{
				Chain:    chain,
				Address:  t.Address,
				Symbol:   t.Symbol,
				Decimals: t.Decimals,
			},
			Amount: amount,
		})
	}

	chain, err := domain.ParseChain(b.Destination.Chain)
	if err != nil {
		return req, fmt.Errorf("destination: %w", err)
	}
	req.Destination = domain.Destination{
		Chain:    chain,
		Token:    b.Destination.Token,
		Decimals: b.Destination.Decimals,
		Protocol: b.Destination.Protocol,
		Vault:    b.Destination.Vault,
	}
	return req, nil
}

func (s *Server) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	var body QuoteRequestBody
	if err := ReadJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := body.toRequest()
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := s.quotes.RequestQuote(r.Context(), req)
	if err != nil {
		if orchestrator.IsValidationError(err) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("quote failed", zap.String("request_id", RequestID(r.Context())), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "quote failed")
		return
	}
	WriteJSON(w, http.StatusOK, q)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	q, err := s.quotes.GetQuote(r.Context(), id)
	switch {
	case errors.Is(err, quotestore.ErrQuoteNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, quotestore.ErrQuoteExpired):
		WriteError(w, http.StatusGone, err.Error())
	case err != nil:
		s.logger.Error("quote lookup failed", zap.String("quote_id", id), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "quote lookup failed")
	default:
		WriteJSON(w, http.StatusOK, q)
	}
}

func (s *Server) handlePricing(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"endpoints": s.pricing.List()})
}
