package enums

import "fmt"

// InboxSeverity grades operator alerts.
type InboxSeverity string

const (
	InboxSeverityInfo     InboxSeverity = "info"
	InboxSeverityWarning  InboxSeverity = "warning"
	InboxSeverityCritical InboxSeverity = "critical"
)

var validInboxSeverities = []InboxSeverity{
	InboxSeverityInfo,
	InboxSeverityWarning,
	InboxSeverityCritical,
}

// String implements fmt.Stringer.
func (s InboxSeverity) String() string {
	return string(s)
}

// IsValid reports whether the value is a known InboxSeverity.
func (s InboxSeverity) IsValid() bool {
	for _, candidate := range validInboxSeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseInboxSeverity converts raw input into an InboxSeverity.
func ParseInboxSeverity(value string) (InboxSeverity, error) {
	for _, candidate := range validInboxSeverities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inbox severity %q", value)
}

// InboxKind categorizes what produced an operator alert.
type InboxKind string

const (
	InboxKindRefundViolation InboxKind = "refund_violation"
	InboxKindRefundConflict  InboxKind = "refund_conflict"
	InboxKindDispute         InboxKind = "dispute"
	InboxKindStockCleanup    InboxKind = "stock_cleanup"
	InboxKindPaymentAlert    InboxKind = "payment_alert"
)

var validInboxKinds = []InboxKind{
	InboxKindRefundViolation,
	InboxKindRefundConflict,
	InboxKindDispute,
	InboxKindStockCleanup,
	InboxKindPaymentAlert,
}

// String implements fmt.Stringer.
func (k InboxKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known InboxKind.
func (k InboxKind) IsValid() bool {
	for _, candidate := range validInboxKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseInboxKind converts raw input into an InboxKind.
func ParseInboxKind(value string) (InboxKind, error) {
	for _, candidate := range validInboxKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inbox kind %q", value)
}
