package nats

import (
	"time"

	"github.com/b3trbeach/storefront/service/db"
)

// PurchaseEvent represents a confirmed purchase published to NATS.
// This is published to the subject "purchases.{payer_address}" in JetStream.
type PurchaseEvent struct {
	// Purchase identifiers
	PurchaseID string `json:"purchase_id"`
	TxID       string `json:"tx_id"`

	// Payment details
	PayerAddress string `json:"payer_address"`
	Item         string `json:"item"`
	Amount       string `json:"amount"` // display units

	// Timing information
	PurchasedAt time.Time `json:"purchased_at"`

	// Metadata
	PublishedAt time.Time `json:"published_at"`
}

// FromDBPurchase converts a purchase record to a PurchaseEvent for publishing.
func FromDBPurchase(p *db.Purchase) *PurchaseEvent {
	return &PurchaseEvent{
		PurchaseID:   p.ID,
		TxID:         p.TxID,
		PayerAddress: p.PayerAddress,
		Item:         p.Item,
		Amount:       p.Amount,
		PurchasedAt:  p.PurchasedAt,
		PublishedAt:  time.Now().UTC(),
	}
}
