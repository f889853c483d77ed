package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"ocpphub/backend/services/ocpp-server/internal/ocpp/protocol"
)

var (
	// ErrUnknownCommand is returned by Execute for actions the central system cannot issue.
	ErrUnknownCommand = errors.New("dispatch: unknown command")
	// ErrInvalidRequest is returned by Execute when the request body is malformed or incomplete.
	ErrInvalidRequest = errors.New("dispatch: invalid request")
)

var validate = validator.New()

// RemoteStartRequest is the operator request for RemoteStartTransaction.
type RemoteStartRequest struct {
	ChargerIdentity string `json:"charger_identity" validate:"required"`
	ConnectorID     int    `json:"connector_id" validate:"gte=0"`
	IDTag           string `json:"id_tag" validate:"required,max=20"`
}

// RemoteStopRequest is the operator request for RemoteStopTransaction.
type RemoteStopRequest struct {
	ChargerIdentity string `json:"charger_identity" validate:"required"`
	TransactionID   int    `json:"transaction_id" validate:"required"`
}

// IdentityRequest is the operator request for commands that only name a charger.
type IdentityRequest struct {
	ChargerIdentity string `json:"charger_identity" validate:"required"`
}

// SendLocalListRequest is the operator request for SendLocalList.
type SendLocalListRequest struct {
	ChargerIdentity        string                       `json:"charger_identity" validate:"required"`
	ListVersion            int                          `json:"list_version" validate:"gte=0"`
	LocalAuthorizationList []protocol.AuthorizationData `json:"local_authorization_list"`
	UpdateType             string                       `json:"update_type" validate:"required,oneof=Differential Full"`
}

// TriggerMessageRequest is the operator request for TriggerMessage.
type TriggerMessageRequest struct {
	ChargerIdentity  string `json:"charger_identity" validate:"required"`
	RequestedMessage string `json:"requested_message" validate:"required,oneof=BootNotification DiagnosticsStatusNotification FirmwareStatusNotification Heartbeat MeterValues StatusNotification"`
	ConnectorID      *int   `json:"connector_id" validate:"omitempty,gte=0"`
}

// ResetRequest is the operator request for Reset.
type ResetRequest struct {
	ChargerIdentity string `json:"charger_identity" validate:"required"`
	ResetType       string `json:"reset_type" validate:"required,oneof=Hard Soft"`
}

// ChangeConfigurationRequest is the operator request for ChangeConfiguration.
type ChangeConfigurationRequest struct {
	ChargerIdentity string `json:"charger_identity" validate:"required"`
	Key             string `json:"key" validate:"required,max=50"`
	Value           string `json:"value" validate:"max=500"`
}

// ReserveNowRequest is the operator request for ReserveNow. A zero reservation id is minted and
// a missing expiry defaults to the configured reservation TTL.
type ReserveNowRequest struct {
	ChargerIdentity string     `json:"charger_identity" validate:"required"`
	ConnectorID     int        `json:"connector_id" validate:"gte=0"`
	IDTag           string     `json:"id_tag" validate:"required,max=20"`
	ReservationID   int        `json:"reservation_id" validate:"gte=0"`
	ExpiryDate      *time.Time `json:"expiry_date"`
}

// CancelReservationRequest is the operator request for CancelReservation.
type CancelReservationRequest struct {
	ChargerIdentity string `json:"charger_identity" validate:"required"`
	ReservationID   int    `json:"reservation_id" validate:"required"`
}

// Commands lists the actions Execute accepts.
func Commands() []string {
	return []string{
		protocol.ActionRemoteStartTransaction,
		protocol.ActionRemoteStopTransaction,
		protocol.ActionGetLocalListVersion,
		protocol.ActionSendLocalList,
		protocol.ActionTriggerMessage,
		protocol.ActionClearCache,
		protocol.ActionReset,
		protocol.ActionChangeConfiguration,
		protocol.ActionReserveNow,
		protocol.ActionCancelReservation,
	}
}

// Execute decodes and validates an operator request for action and issues it with the default
// timeout. Only ErrUnknownCommand and ErrInvalidRequest are returned as errors; everything
// the charger or registry decides ends up in Result.
func (d *Dispatcher) Execute(ctx context.Context, action string, body json.RawMessage) (Result, error) {
	switch action {
	case protocol.ActionRemoteStartTransaction:
		var req RemoteStartRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.RemoteStartTransaction(ctx, req.ChargerIdentity, req.ConnectorID, req.IDTag, 0), nil

	case protocol.ActionRemoteStopTransaction:
		var req RemoteStopRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.RemoteStopTransaction(ctx, req.ChargerIdentity, req.TransactionID, 0), nil

	case protocol.ActionGetLocalListVersion:
		var req IdentityRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.GetLocalListVersion(ctx, req.ChargerIdentity, 0), nil

	case protocol.ActionSendLocalList:
		var req SendLocalListRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.SendLocalList(ctx, req.ChargerIdentity, protocol.SendLocalListRequest{
			ListVersion:            req.ListVersion,
			LocalAuthorizationList: req.LocalAuthorizationList,
			UpdateType:             req.UpdateType,
		}, 0), nil

	case protocol.ActionTriggerMessage:
		var req TriggerMessageRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.TriggerMessage(ctx, req.ChargerIdentity, req.RequestedMessage, req.ConnectorID, 0), nil

	case protocol.ActionClearCache:
		var req IdentityRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.ClearCache(ctx, req.ChargerIdentity, 0), nil

	case protocol.ActionReset:
		var req ResetRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.Reset(ctx, req.ChargerIdentity, req.ResetType, 0), nil

	case protocol.ActionChangeConfiguration:
		var req ChangeConfigurationRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.ChangeConfiguration(ctx, req.ChargerIdentity, req.Key, req.Value, 0), nil

	case protocol.ActionReserveNow:
		var req ReserveNowRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		payload := protocol.ReserveNowRequest{
			ConnectorID:   req.ConnectorID,
			IdTag:         req.IDTag,
			ReservationID: req.ReservationID,
		}
		if req.ExpiryDate != nil {
			payload.ExpiryDate = req.ExpiryDate.UTC()
		}
		return d.Issue(ctx, req.ChargerIdentity, protocol.ActionReserveNow, payload, 0), nil

	case protocol.ActionCancelReservation:
		var req CancelReservationRequest
		if err := bind(body, &req); err != nil {
			return Result{}, err
		}
		return d.CancelReservation(ctx, req.ChargerIdentity, req.ReservationID, 0), nil
	}
	return Result{}, fmt.Errorf("%w %q", ErrUnknownCommand, action)
}

func bind(body json.RawMessage, req interface{}) error {
	if len(bytes.TrimSpace(body)) == 0 {
		body = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(body, req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
