package orders

import (
	"testing"

	"github.com/riverstonegoods/storefront-backend/pkg/enums"
)

func TestCalculateOrderStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		current  enums.OrderStatus
		total    int64
		refunded int64
		want     enums.OrderStatus
	}{
		{"pending sticky", enums.OrderStatusPending, 1000, 400, enums.OrderStatusPending},
		{"pending sticky at full refund", enums.OrderStatusPending, 1000, 1000, enums.OrderStatusPending},
		{"paid no refunds", enums.OrderStatusPaid, 1000, 0, enums.OrderStatusPaid},
		{"partial refund", enums.OrderStatusPaid, 1000, 400, enums.OrderStatusPartiallyRefunded},
		{"full refund", enums.OrderStatusPartiallyRefunded, 1000, 1000, enums.OrderStatusRefunded},
		{"over total still refunded", enums.OrderStatusPaid, 1000, 1200, enums.OrderStatusRefunded},
		{"zero total stays paid", enums.OrderStatusPaid, 0, 0, enums.OrderStatusPaid},
		{"negative refunded treated as none", enums.OrderStatusPartiallyRefunded, 1000, -5, enums.OrderStatusPaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateOrderStatus(tt.current, tt.total, tt.refunded)
			if got != tt.want {
				t.Fatalf("CalculateOrderStatus(%s, %d, %d) = %s, want %s",
					tt.current, tt.total, tt.refunded, got, tt.want)
			}
		})
	}
}

func TestStatusMonotonicityUnderPartialRefunds(t *testing.T) {
	t.Parallel()

	rank := map[enums.OrderStatus]int{
		enums.OrderStatusPaid:              0,
		enums.OrderStatusPartiallyRefunded: 1,
		enums.OrderStatusRefunded:          2,
	}

	const total = int64(1000)
	current := enums.OrderStatusPaid
	refunded := int64(0)
	for _, amount := range []int64{100, 250, 150, 500} {
		refunded += amount
		next := CalculateOrderStatus(current, total, refunded)
		if rank[next] < rank[current] {
			t.Fatalf("status regressed from %s to %s at refunded=%d", current, next, refunded)
		}
		current = next
	}
	if current != enums.OrderStatusRefunded {
		t.Fatalf("expected refunded terminal status, got %s", current)
	}
}
