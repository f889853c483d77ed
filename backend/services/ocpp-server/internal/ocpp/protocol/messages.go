package protocol

import "time"

// IdTagInfo is the authorization verdict attached to several responses.
type IdTagInfo struct {
	Status      string     `json:"status"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
	ParentIdTag string     `json:"parentIdTag,omitempty"`
}

// BootNotificationRequest payload.
type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

// BootNotificationResponse payload.
type BootNotificationResponse struct {
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
	Status      string    `json:"status"`
}

// HeartbeatResponse returns server time.
type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

// AuthorizeRequest payload.
type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

// AuthorizeResponse payload.
type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

// StatusNotificationRequest payload.
type StatusNotificationRequest struct {
	ConnectorID     int        `json:"connectorId"`
	ErrorCode       string     `json:"errorCode"`
	Status          string     `json:"status"`
	Info            string     `json:"info,omitempty"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	VendorID        string     `json:"vendorId,omitempty"`
	VendorErrorCode string     `json:"vendorErrorCode,omitempty"`
}

// StatusNotificationResponse is empty (ack).
type StatusNotificationResponse struct{}

// SampledValue is one reading inside a MeterValue.
type SampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Format    string `json:"format,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Location  string `json:"location,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

// MeterValue groups sampled values taken at one instant.
type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

// MeterValuesRequest payload.
type MeterValuesRequest struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

// MeterValuesResponse is empty (ack).
type MeterValuesResponse struct{}

// StartTransactionRequest payload.
type StartTransactionRequest struct {
	ConnectorID   int       `json:"connectorId"`
	IdTag         string    `json:"idTag"`
	MeterStart    int       `json:"meterStart"`
	ReservationID *int      `json:"reservationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// StartTransactionResponse payload.
type StartTransactionResponse struct {
	IdTagInfo     IdTagInfo `json:"idTagInfo"`
	TransactionID int       `json:"transactionId"`
}

// StopTransactionRequest payload.
type StopTransactionRequest struct {
	IdTag           string       `json:"idTag,omitempty"`
	MeterStop       int          `json:"meterStop"`
	Timestamp       time.Time    `json:"timestamp"`
	TransactionID   int          `json:"transactionId"`
	Reason          string       `json:"reason,omitempty"`
	TransactionData []MeterValue `json:"transactionData,omitempty"`
}

// StopTransactionResponse payload.
type StopTransactionResponse struct {
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// RemoteStartTransactionRequest payload.
type RemoteStartTransactionRequest struct {
	ConnectorID int    `json:"connectorId,omitempty"`
	IdTag       string `json:"idTag"`
}

// RemoteStopTransactionRequest payload.
type RemoteStopTransactionRequest struct {
	TransactionID int `json:"transactionId"`
}

// GetLocalListVersionRequest is empty.
type GetLocalListVersionRequest struct{}

// AuthorizationData is one entry of a local authorization list.
type AuthorizationData struct {
	IdTag     string     `json:"idTag"`
	IdTagInfo *IdTagInfo `json:"idTagInfo,omitempty"`
}

// SendLocalListRequest payload.
type SendLocalListRequest struct {
	ListVersion            int                 `json:"listVersion"`
	LocalAuthorizationList []AuthorizationData `json:"localAuthorizationList,omitempty"`
	UpdateType             string              `json:"updateType"`
}

// TriggerMessageRequest payload.
type TriggerMessageRequest struct {
	RequestedMessage string `json:"requestedMessage"`
	ConnectorID      *int   `json:"connectorId,omitempty"`
}

// ClearCacheRequest is empty.
type ClearCacheRequest struct{}

// ResetRequest payload.
type ResetRequest struct {
	Type string `json:"type"`
}

// ChangeConfigurationRequest payload.
type ChangeConfigurationRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ReserveNowRequest payload.
type ReserveNowRequest struct {
	ConnectorID   int       `json:"connectorId"`
	ExpiryDate    time.Time `json:"expiryDate"`
	IdTag         string    `json:"idTag"`
	ParentIdTag   string    `json:"parentIdTag,omitempty"`
	ReservationID int       `json:"reservationId"`
}

// CancelReservationRequest payload.
type CancelReservationRequest struct {
	ReservationID int `json:"reservationId"`
}

// StatusResponse covers every command response whose only mandatory field is status.
type StatusResponse struct {
	Status string `json:"status"`
}
