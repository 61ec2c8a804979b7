package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// ListingJSON is the wire form of domain.Listing.
type ListingJSON struct {
	Price             string `json:"price"`
	ERC20TokenAddress string `json:"erc20TokenAddress"`
	ERC20TokenName    string `json:"erc20TokenName"`
}

// EventJSON is the wire form of a stored event. 256-bit integers are
// decimal strings.
type EventJSON struct {
	ChainID         uint64       `json:"chainId"`
	BlockNumber     uint64       `json:"blockNumber"`
	BlockHash       string       `json:"blockHash,omitempty"`
	TransactionHash string       `json:"transactionHash"`
	LogIndex        uint         `json:"logIndex"`
	Contract        string       `json:"contract,omitempty"`
	Kind            string       `json:"kind"`
	Seller          string       `json:"seller"`
	NFTAddress      string       `json:"nftAddress"`
	TokenID         string       `json:"tokenId"`
	Listing         *ListingJSON `json:"listing,omitempty"`
	ObservedAt      time.Time    `json:"observedAt"`
}

// ToJSON converts a stored event to its wire form.
func ToJSON(e *domain.ChainEvent) EventJSON {
	out := EventJSON{
		ChainID:         uint64(e.ChainID),
		BlockNumber:     e.BlockNumber,
		BlockHash:       e.BlockHash,
		TransactionHash: e.TxHash,
		LogIndex:        e.LogIndex,
		Contract:        e.Contract,
		Kind:            string(e.Kind()),
		ObservedAt:      e.ObservedAt,
	}
	switch p := e.Payload.(type) {
	case domain.ItemListed:
		out.Seller = p.Seller
		out.NFTAddress = p.NFTAddress
		out.TokenID = decimal(p.TokenID)
		out.Listing = &ListingJSON{
			Price:             decimal(p.Listing.Price),
			ERC20TokenAddress: p.Listing.ERC20TokenAddress,
			ERC20TokenName:    p.Listing.ERC20TokenName,
		}
	case domain.ItemCanceled:
		out.Seller = p.Seller
		out.NFTAddress = p.NFTAddress
		out.TokenID = decimal(p.TokenID)
	}
	return out
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// RegisterRoutes mounts the event endpoints on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/events/item-listed", s.handle(s.ItemListedEvents))
	mux.HandleFunc("GET /api/v1/events/item-canceled", s.handle(s.ItemCanceledEvents))
}

func (s *Service) handle(list func(ctx context.Context) ([]*domain.ChainEvent, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := list(r.Context())
		if err != nil {
			slog.Error("Query failed", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event store unavailable"})
			return
		}

		body := make([]EventJSON, 0, len(events))
		for _, e := range events {
			body = append(body, ToJSON(e))
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}
