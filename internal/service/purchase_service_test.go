package service

import (
	"encoding/json"
	"strings"
	"testing"

	"voucher-service/config"
	"voucher-service/internal/models"
	"voucher-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPurchaseService() *PurchaseService {
	return &PurchaseService{
		business: &config.BusinessConfig{
			UnitPriceToea: 5000,
			Currency:      "PGK",
			MaxQuantity:   20,
		},
		logger: util.GetLogger(),
	}
}

func TestValidateRequest(t *testing.T) {
	s := testPurchaseService()

	tests := []struct {
		name    string
		req     CreateSessionRequest
		wantErr bool
	}{
		{
			name: "valid email purchase",
			req:  CreateSessionRequest{Quantity: 3, CustomerEmail: "buyer@example.com"},
		},
		{
			name: "valid phone purchase",
			req:  CreateSessionRequest{Quantity: 1, CustomerPhone: "+67570000000"},
		},
		{
			name:    "zero quantity",
			req:     CreateSessionRequest{Quantity: 0, CustomerEmail: "buyer@example.com"},
			wantErr: true,
		},
		{
			name:    "over max quantity",
			req:     CreateSessionRequest{Quantity: 21, CustomerEmail: "buyer@example.com"},
			wantErr: true,
		},
		{
			name:    "no contact at all",
			req:     CreateSessionRequest{Quantity: 1},
			wantErr: true,
		},
		{
			name:    "malformed email",
			req:     CreateSessionRequest{Quantity: 1, CustomerEmail: "not-an-email"},
			wantErr: true,
		},
		{
			name:    "unknown delivery method",
			req:     CreateSessionRequest{Quantity: 1, CustomerEmail: "b@e.com", DeliveryMethod: "pigeon"},
			wantErr: true,
		},
		{
			name: "passport on single voucher",
			req: CreateSessionRequest{
				Quantity:      1,
				CustomerEmail: "b@e.com",
				Passport: &models.PassportPayload{
					PassportNumber: "N1234567", Surname: "KAUPA", GivenName: "JOHN",
				},
			},
		},
		{
			name: "passport on multi voucher rejected",
			req: CreateSessionRequest{
				Quantity:      3,
				CustomerEmail: "b@e.com",
				Passport: &models.PassportPayload{
					PassportNumber: "N1234567", Surname: "KAUPA", GivenName: "JOHN",
				},
			},
			wantErr: true,
		},
		{
			name: "incomplete passport rejected",
			req: CreateSessionRequest{
				Quantity:      1,
				CustomerEmail: "b@e.com",
				Passport:      &models.PassportPayload{PassportNumber: "N1234567"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.validateRequest(&tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeliveryMethodOrDefault(t *testing.T) {
	assert.Equal(t, "sms", deliveryMethodOrDefault(&CreateSessionRequest{CustomerPhone: "+675"}))
	assert.Equal(t, "email", deliveryMethodOrDefault(&CreateSessionRequest{CustomerEmail: "a@b.c"}))
	assert.Equal(t, "both", deliveryMethodOrDefault(&CreateSessionRequest{CustomerEmail: "a@b.c", DeliveryMethod: "both"}))
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	assert.True(t, strings.HasPrefix(id, "PGKB-"))
	assert.Equal(t, id, strings.ToUpper(id))

	parts := strings.Split(id, "-")
	require.Len(t, parts, 3)
	assert.Len(t, parts[2], 8)

	assert.NotEqual(t, id, NewSessionID())
}

func TestGatewayForSession(t *testing.T) {
	session := &models.PurchaseSession{
		SessionData: json.RawMessage(`{"gateway":"doku","checkout":{"MALLID":"1"}}`),
	}
	assert.Equal(t, "doku", gatewayForSession(session))

	assert.Empty(t, gatewayForSession(&models.PurchaseSession{}))
	assert.Empty(t, gatewayForSession(&models.PurchaseSession{
		SessionData: json.RawMessage(`garbage`),
	}))
}
