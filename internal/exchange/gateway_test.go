package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vantapoint/perpcore/internal/domain"
)

func decPtr(v string) *decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return &d
}

func TestNormalizedStatus(t *testing.T) {
	amount := decimal.NewFromInt(10)
	tests := []struct {
		name  string
		reply OrderReply
		want  domain.OrderStatus
	}{
		{"canceled", OrderReply{Status: "canceled"}, domain.StatusCanceled},
		{"british cancelled", OrderReply{Status: "cancelled"}, domain.StatusCanceled},
		{"rejected", OrderReply{Status: "rejected"}, domain.StatusRejected},
		{"closed string", OrderReply{Status: "closed"}, domain.StatusFilled},
		{"filled string", OrderReply{Status: "filled"}, domain.StatusFilled},
		{"filled at amount", OrderReply{Status: "open", Filled: decPtr("10")}, domain.StatusFilled},
		{"over filled", OrderReply{Status: "open", Filled: decPtr("11")}, domain.StatusFilled},
		{"partial", OrderReply{Status: "open", Filled: decPtr("4")}, domain.StatusPartiallyFilled},
		{"fresh open", OrderReply{Status: "open"}, domain.StatusNew},
		{"unknown status", OrderReply{Status: "live"}, domain.StatusNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizedStatus(tt.reply, amount))
		})
	}
}

func TestNormalizedStatusPrefersReplyAmount(t *testing.T) {
	// Exchange reports a smaller amount than requested: the reply wins.
	reply := OrderReply{Status: "open", Filled: decPtr("5"), Amount: decPtr("5")}
	assert.Equal(t, domain.StatusFilled, NormalizedStatus(reply, decimal.NewFromInt(10)))
}

func TestNormalizedStatusCancelWinsOverFill(t *testing.T) {
	reply := OrderReply{Status: "canceled", Filled: decPtr("10")}
	assert.Equal(t, domain.StatusCanceled, NormalizedStatus(reply, decimal.NewFromInt(10)))
}
