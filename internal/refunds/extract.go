package refunds

import (
	"encoding/json"

	"github.com/stripe/stripe-go/v84"
)

// ProviderRefund is the normalized view of one Stripe refund, regardless of
// which event shape delivered it.
type ProviderRefund struct {
	RefundID        string
	PaymentIntentID string
	ChargeID        string
	AmountCents     int64
	Metadata        map[string]string
}

// FromEvent extracts refunds from a webhook event. charge.refunded carries a
// charge with a refund list; refund.* events carry a single refund object.
// Unparseable payloads yield an empty slice, never an error: the dispatcher
// treats them as ignorable.
func FromEvent(event *stripe.Event) []ProviderRefund {
	if event == nil || event.Data == nil || len(event.Data.Raw) == 0 {
		return nil
	}

	if event.Type == stripe.EventTypeChargeRefunded {
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil
		}
		return fromCharge(&charge)
	}

	var refund stripe.Refund
	if err := json.Unmarshal(event.Data.Raw, &refund); err != nil {
		return nil
	}
	if normalized, ok := fromRefund(&refund); ok {
		return []ProviderRefund{normalized}
	}
	return nil
}

func fromCharge(charge *stripe.Charge) []ProviderRefund {
	if charge == nil || charge.Refunds == nil {
		return nil
	}
	out := make([]ProviderRefund, 0, len(charge.Refunds.Data))
	for _, refund := range charge.Refunds.Data {
		normalized, ok := fromRefund(refund)
		if !ok {
			continue
		}
		if normalized.PaymentIntentID == "" && charge.PaymentIntent != nil {
			normalized.PaymentIntentID = charge.PaymentIntent.ID
		}
		if normalized.ChargeID == "" {
			normalized.ChargeID = charge.ID
		}
		if len(normalized.Metadata) == 0 {
			normalized.Metadata = charge.Metadata
		}
		out = append(out, normalized)
	}
	return out
}

func fromRefund(refund *stripe.Refund) (ProviderRefund, bool) {
	if refund == nil || refund.ID == "" {
		return ProviderRefund{}, false
	}
	// Pending or failed refunds are not money moved yet.
	if refund.Status != "" && refund.Status != stripe.RefundStatusSucceeded {
		return ProviderRefund{}, false
	}
	normalized := ProviderRefund{
		RefundID:    refund.ID,
		AmountCents: refund.Amount,
		Metadata:    refund.Metadata,
	}
	if refund.PaymentIntent != nil {
		normalized.PaymentIntentID = refund.PaymentIntent.ID
	}
	if refund.Charge != nil {
		normalized.ChargeID = refund.Charge.ID
	}
	return normalized, true
}
