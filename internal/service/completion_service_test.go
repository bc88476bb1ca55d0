package service

import (
	"context"
	"testing"

	"voucher-service/internal/models"
	"voucher-service/internal/store"
	"voucher-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishIssuedCarriesContactAndCodes(t *testing.T) {
	notifier := &fakeNotifier{}
	s := &CompletionService{events: notifier, logger: util.GetLogger()}

	email := "buyer@example.com"
	phone := "+67570000000"
	outcome := &store.CompletionOutcome{
		Session: &models.PurchaseSession{
			ID:            "PGKB-1",
			CustomerEmail: &email,
			CustomerPhone: &phone,
		},
		Vouchers: []models.Voucher{{Code: "ONL-A"}, {Code: "ONL-B"}},
	}

	s.publishIssued(context.Background(), outcome, false)

	require.Len(t, notifier.issued, 1)
	event := notifier.issued[0]
	assert.Equal(t, "PGKB-1", event.SessionID)
	assert.Equal(t, email, event.CustomerEmail)
	assert.Equal(t, phone, event.CustomerPhone)
	assert.Equal(t, []string{"ONL-A", "ONL-B"}, event.VoucherCodes)
	assert.False(t, event.Recovered)
}

func TestPublishIssuedWithoutContact(t *testing.T) {
	notifier := &fakeNotifier{}
	s := &CompletionService{events: notifier, logger: util.GetLogger()}

	s.publishIssued(context.Background(), &store.CompletionOutcome{
		Session:  &models.PurchaseSession{ID: "PGKB-2"},
		Vouchers: []models.Voucher{{Code: "ONL-C"}},
	}, true)

	require.Len(t, notifier.issued, 1)
	assert.Empty(t, notifier.issued[0].CustomerEmail)
	assert.True(t, notifier.issued[0].Recovered)
}
