package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/lealtad-backend/internal/testdb"
	"github.com/angelmondragon/lealtad-backend/pkg/db/models"
	"github.com/angelmondragon/lealtad-backend/pkg/enums"
	"github.com/angelmondragon/lealtad-backend/pkg/outbox/payloads"
)

func TestEmitQueuesRowInsideTransaction(t *testing.T) {
	conn := testdb.Open(t)
	svc := NewService(NewRepository(conn), nil)
	customerID := uuid.New()
	promotedAt := time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventTierPromoted,
			AggregateType: enums.AggregateCustomer,
			AggregateID:   customerID,
			OccurredAt:    promotedAt,
			Data:          payloads.TierPromotedEvent{CustomerID: customerID, ToTierName: "Oro", ToTierRank: 2},
		})
	}))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, customerID, rows[0].AggregateID)

	envelope, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	require.True(t, envelope.OccurredAt.Equal(promotedAt))
	require.Contains(t, string(envelope.Data), `"to_tier_name":"Oro"`)
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	conn := testdb.Open(t)
	svc := NewService(NewRepository(conn), nil)
	customerID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventCustomerActivated,
			AggregateType: enums.AggregateCustomer,
			AggregateID:   customerID,
			Data:          payloads.CustomerActivatedEvent{CustomerID: customerID, Source: enums.VisitSourceScan},
		}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.ErrorIs(t, err, gorm.ErrInvalidTransaction)

	var n int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestEmitRejectsMalformedEvents(t *testing.T) {
	svc := NewService(nil, nil)
	customerID := uuid.New()
	cases := map[string]DomainEvent{
		"unknown type": {
			EventType: "order_created", AggregateType: enums.AggregateCustomer, AggregateID: customerID,
		},
		"unknown aggregate": {
			EventType: enums.EventTierPromoted, AggregateType: "order", AggregateID: customerID,
		},
		"nil aggregate": {
			EventType: enums.EventTierPromoted, AggregateType: enums.AggregateCustomer,
		},
		"payload for another customer": {
			EventType: enums.EventTierPromoted, AggregateType: enums.AggregateCustomer, AggregateID: customerID,
			Data: payloads.TierPromotedEvent{CustomerID: uuid.New()},
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, svc.Emit(context.Background(), &gorm.DB{}, event))
		})
	}
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
}
