package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidateSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		entry   CreditTransaction
		wantErr error
	}{
		{
			name: "debit snapshots consistent",
			entry: CreditTransaction{
				Type:            TypeConsumption,
				Amount:          decimal.NewFromInt(5),
				PreviousBalance: decimal.NewFromInt(10),
				NewBalance:      decimal.NewFromInt(5),
			},
		},
		{
			name: "credit snapshots consistent",
			entry: CreditTransaction{
				Type:            TypeAllocation,
				Amount:          decimal.NewFromInt(5),
				PreviousBalance: decimal.NewFromInt(10),
				NewBalance:      decimal.NewFromInt(15),
			},
		},
		{
			name: "debit snapshots off by one",
			entry: CreditTransaction{
				Type:            TypeConsumption,
				Amount:          decimal.NewFromInt(5),
				PreviousBalance: decimal.NewFromInt(10),
				NewBalance:      decimal.NewFromInt(6),
			},
			wantErr: ErrSnapshotMismatch,
		},
		{
			name: "transfer in credits the balance",
			entry: CreditTransaction{
				Type:            TypeTransferIn,
				Amount:          decimal.NewFromInt(3),
				PreviousBalance: decimal.Zero,
				NewBalance:      decimal.NewFromInt(3),
			},
		},
		{
			name: "negative amount",
			entry: CreditTransaction{
				Type:            TypeConsumption,
				Amount:          decimal.NewFromInt(-5),
				PreviousBalance: decimal.NewFromInt(10),
				NewBalance:      decimal.NewFromInt(15),
			},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "unknown type",
			entry: CreditTransaction{
				Type:            TransactionType("bonus"),
				Amount:          decimal.NewFromInt(5),
				PreviousBalance: decimal.NewFromInt(10),
				NewBalance:      decimal.NewFromInt(5),
			},
			wantErr: ErrInvalidType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.ValidateSnapshot()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
