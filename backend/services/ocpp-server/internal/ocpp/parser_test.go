package ocpp

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

func TestParseFrames(t *testing.T) {
	parser := NewParser(false)

	call, err := parser.Parse([]byte(`[2,"19223201","BootNotification",{"chargePointVendor":"VendorX","chargePointModel":"SingleSocket"}]`))
	require.NoError(t, err)
	assert.True(t, call.IsCall())
	assert.Equal(t, "19223201", call.UniqueID)
	assert.Equal(t, protocol.ActionBootNotification, call.Action)
	assert.JSONEq(t, `{"chargePointVendor":"VendorX","chargePointModel":"SingleSocket"}`, string(call.Payload))

	result, err := parser.Parse([]byte(`[3,"abc",{"status":"Accepted"}]`))
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCallResult, result.MessageType)
	assert.Equal(t, "abc", result.UniqueID)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(result.Payload))

	callErr, err := parser.Parse([]byte(`[4,"abc","NotSupported","nope",{"hint":"x"}]`))
	require.NoError(t, err)
	assert.Equal(t, protocol.MessageTypeCallError, callErr.MessageType)
	assert.Equal(t, "NotSupported", callErr.ErrorCode)
	assert.Equal(t, "nope", callErr.ErrorDescription)
	assert.JSONEq(t, `{"hint":"x"}`, string(callErr.ErrorDetails))

	noDetails, err := parser.Parse([]byte(`[4,"abc","InternalError",""]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(noDetails.ErrorDetails))

	nullPayload, err := parser.Parse([]byte(`[2,"h1","Heartbeat",null]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(nullPayload.Payload))
}

func TestParseRejectsMalformedFrames(t *testing.T) {
	parser := NewParser(false)

	cases := map[string]string{
		"not json":          `hello`,
		"object":            `{"a":1}`,
		"too short":         `[2,"id"]`,
		"unknown type":      `[5,"id","x",{}]`,
		"type not a number": `["2","id","Heartbeat",{}]`,
		"id not a string":   `[2,17,"Heartbeat",{}]`,
		"call without body": `[2,"id","Heartbeat"]`,
		"empty action":      `[2,"id","",{}]`,
		"error too short":   `[4,"id","InternalError"]`,
		"error code type":   `[4,"id",5,"desc",{}]`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			msg, err := parser.Parse([]byte(raw))
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestParseBase64Envelope(t *testing.T) {
	parser := NewParser(true)
	frame := `[2,"1","Heartbeat",{}]`

	wrapped, err := parser.Parse([]byte(base64.StdEncoding.EncodeToString([]byte(frame))))
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionHeartbeat, wrapped.Action)

	plain, err := parser.Parse([]byte(frame))
	require.NoError(t, err)
	assert.Equal(t, protocol.ActionHeartbeat, plain.Action)

	_, err = parser.Parse([]byte("%%%not-base64%%%"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestEncodeRoundTrip(t *testing.T) {
	parser := NewParser(false)

	raw, err := BuildCall("c-1", protocol.ActionRemoteStartTransaction, protocol.RemoteStartTransactionRequest{ConnectorID: 1, IdTag: "TAG1"})
	require.NoError(t, err)
	assert.JSONEq(t, `[2,"c-1","RemoteStartTransaction",{"connectorId":1,"idTag":"TAG1"}]`, string(raw))

	msg, err := parser.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "c-1", msg.UniqueID)

	res, err := BuildCallResult("c-2", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"c-2",{}]`, string(res))

	callErr, err := BuildCallError("c-3", protocol.ErrorNotImplemented, "unknown action Foo")
	require.NoError(t, err)
	assert.JSONEq(t, `[4,"c-3","NotImplemented","unknown action Foo",{}]`, string(callErr))

	_, err = Encode(&Message{MessageType: 9})
	assert.Error(t, err)
}

func TestDecodeHelper(t *testing.T) {
	req, err := Decode[protocol.StartTransactionRequest](json.RawMessage(`{"connectorId":2,"idTag":"A","meterStart":10,"timestamp":"2024-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, req.ConnectorID)
	assert.Equal(t, "A", req.IdTag)

	_, err = Decode[protocol.StartTransactionRequest](json.RawMessage(`{"connectorId":"two"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
