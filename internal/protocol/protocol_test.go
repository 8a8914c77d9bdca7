package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTaggedUnion(t *testing.T) {
	f, err := Decode([]byte(`{"type":"accept_delivery","deliveryId":"D1","riderId":"R1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeAcceptDelivery, f.Type)
	assert.Equal(t, "D1", f.DeliveryID)
	assert.Equal(t, "R1", f.RiderID)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{oops"))
	assert.Error(t, err)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"deliveryId":"D1"}`))
	assert.ErrorIs(t, err, ErrMissingType)
}

func TestOutboundFramesCarryDiscriminator(t *testing.T) {
	cases := []struct {
		frame    interface{}
		wantType string
	}{
		{NewConnected(), "connected"},
		{NewAuthSuccess("R1", "offline"), "auth_success"},
		{NewAdminAuthSuccess("A1"), "admin_auth_success"},
		{NewDeliveryRejected("D1", "delivery already accepted"), "delivery_rejected"},
		{NewRoutesOptimized(), "routes_optimized"},
		{NewEmergencyAlert("R1"), "emergency_alert"},
	}
	for _, tc := range cases {
		b, err := json.Marshal(tc.frame)
		require.NoError(t, err)
		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(b, &decoded))
		assert.Equal(t, tc.wantType, decoded["type"])
	}
}
