package coupon

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE10", NormalizeCode("  save10 "))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestNewCoupon(t *testing.T) {
	expires := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	maxBelowMin := decimal.NewFromInt(10)
	validMax := decimal.NewFromInt(1000)

	tests := []struct {
		name    string
		in      Coupon
		wantErr error
	}{
		{
			name: "valid coupon is normalised",
			in: Coupon{
				Code:               " summer ",
				DiscountPercentage: decimal.NewFromInt(10),
				MinPurchaseAmount:  decimal.NewFromInt(50),
				MaxPurchaseAmount:  &validMax,
				ExpirationDate:     expires,
			},
		},
		{
			name:    "empty code",
			in:      Coupon{Code: " ", DiscountPercentage: decimal.NewFromInt(10), ExpirationDate: expires},
			wantErr: ErrEmptyCode,
		},
		{
			name:    "percentage above 100",
			in:      Coupon{Code: "X", DiscountPercentage: decimal.NewFromInt(101), ExpirationDate: expires},
			wantErr: ErrInvalidPercentage,
		},
		{
			name:    "negative percentage",
			in:      Coupon{Code: "X", DiscountPercentage: decimal.NewFromInt(-1), ExpirationDate: expires},
			wantErr: ErrInvalidPercentage,
		},
		{
			name: "max below min",
			in: Coupon{
				Code:               "X",
				DiscountPercentage: decimal.NewFromInt(5),
				MinPurchaseAmount:  decimal.NewFromInt(50),
				MaxPurchaseAmount:  &maxBelowMin,
				ExpirationDate:     expires,
			},
			wantErr: ErrInvalidPurchaseRange,
		},
		{
			name:    "missing expiration",
			in:      Coupon{Code: "X", DiscountPercentage: decimal.NewFromInt(5)},
			wantErr: ErrMissingExpiration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCoupon(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SUMMER", got.Code)
		})
	}
}
