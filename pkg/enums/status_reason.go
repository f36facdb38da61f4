package enums

// StatusReason is the machine-readable cause recorded with a status transition.
type StatusReason string

const (
	StatusReasonPaymentSucceeded StatusReason = "payment_succeeded"
	StatusReasonPaymentFailed    StatusReason = "payment_failed"
	StatusReasonPaymentCanceled  StatusReason = "payment_canceled"
	StatusReasonRefundPartial    StatusReason = "refund_partial"
	StatusReasonRefundFull       StatusReason = "refund_full"
	StatusReasonOrderCancelled   StatusReason = "order_cancelled"
)

// String implements fmt.Stringer.
func (r StatusReason) String() string {
	return string(r)
}
