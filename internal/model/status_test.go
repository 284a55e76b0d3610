package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/bundlemart/internal/apperr"
)

func TestTransition(t *testing.T) {
	tests := []struct {
		name        string
		from        OrderStatus
		to          OrderStatus
		replacement bool
		want        Effect
		wantErr     apperr.Kind
	}{
		{name: "confirm", from: OrderStatusPlaced, to: OrderStatusConfirmed},
		{name: "ship", from: OrderStatusConfirmed, to: OrderStatusShipped},
		{name: "deliver", from: OrderStatusShipped, to: OrderStatusDelivered, want: EffectCountSales},
		{name: "cancel placed", from: OrderStatusPlaced, to: OrderStatusCancelled, want: EffectReleaseStock},
		{name: "cancel confirmed", from: OrderStatusConfirmed, to: OrderStatusCancelled, want: EffectReleaseStock},
		{
			name: "cancel replacement", from: OrderStatusConfirmed, to: OrderStatusCancelled, replacement: true,
			want: EffectReleaseStock | EffectRefundParent,
		},
		{
			name: "cancel cancelled replacement", from: OrderStatusCancelled, to: OrderStatusCancelled, replacement: true,
			want: EffectRefundParent | EffectKeepStatus,
		},
		{name: "same status", from: OrderStatusConfirmed, to: OrderStatusConfirmed, want: EffectNoop},
		{name: "delivered again", from: OrderStatusDelivered, to: OrderStatusDelivered, want: EffectNoop},

		{name: "skip confirmation", from: OrderStatusPlaced, to: OrderStatusShipped, wantErr: apperr.KindStateConflict},
		{name: "backwards", from: OrderStatusShipped, to: OrderStatusConfirmed, wantErr: apperr.KindStateConflict},
		{name: "cancel shipped", from: OrderStatusShipped, to: OrderStatusCancelled, wantErr: apperr.KindStateConflict},
		{name: "cancel delivered", from: OrderStatusDelivered, to: OrderStatusCancelled, wantErr: apperr.KindStateConflict},
		{name: "set returned", from: OrderStatusDelivered, to: OrderStatusReturned, wantErr: apperr.KindStateConflict},
		{name: "set replaced", from: OrderStatusShipped, to: OrderStatusReplaced, wantErr: apperr.KindStateConflict},
		{name: "cancel cancelled", from: OrderStatusCancelled, to: OrderStatusCancelled, wantErr: apperr.KindStateConflict},
		{name: "revive cancelled", from: OrderStatusCancelled, to: OrderStatusPlaced, wantErr: apperr.KindStateConflict},
		{name: "leave returned", from: OrderStatusReturned, to: OrderStatusDelivered, wantErr: apperr.KindStateConflict},
		{name: "unknown status", from: OrderStatusPlaced, to: "LOST", wantErr: apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transition(tt.from, tt.to, tt.replacement)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.True(t, OrderStatusReturned.IsTerminal())
	assert.True(t, OrderStatusReplaced.IsTerminal())
	assert.False(t, OrderStatusDelivered.IsTerminal())

	assert.True(t, OrderStatusPlaced.IsCancellable())
	assert.True(t, OrderStatusConfirmed.IsCancellable())
	assert.False(t, OrderStatusShipped.IsCancellable())

	assert.True(t, ReturnStatusRequested.IsOpen())
	assert.True(t, ReturnStatusApproved.IsOpen())
	assert.False(t, ReturnStatusRejected.IsOpen())
	assert.False(t, ReturnStatusCompleted.IsOpen())
}
