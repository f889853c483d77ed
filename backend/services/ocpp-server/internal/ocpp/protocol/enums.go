package protocol

// MessageType values as per OCPP-J.
const (
	MessageTypeCall       = 2
	MessageTypeCallResult = 3
	MessageTypeCallError  = 4
)

// Charge-point initiated actions.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionAuthorize          = "Authorize"
	ActionStatusNotification = "StatusNotification"
	ActionMeterValues        = "MeterValues"
	ActionStartTransaction   = "StartTransaction"
	ActionStopTransaction    = "StopTransaction"
)

// Central-system initiated actions.
const (
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
	ActionGetLocalListVersion    = "GetLocalListVersion"
	ActionSendLocalList          = "SendLocalList"
	ActionTriggerMessage         = "TriggerMessage"
	ActionClearCache             = "ClearCache"
	ActionReset                  = "Reset"
	ActionChangeConfiguration    = "ChangeConfiguration"
	ActionReserveNow             = "ReserveNow"
	ActionCancelReservation      = "CancelReservation"
)

// Registration status values.
const (
	RegistrationAccepted = "Accepted"
	RegistrationPending  = "Pending"
	RegistrationRejected = "Rejected"
)

// Authorization (idTagInfo) status values.
const (
	AuthorizationAccepted     = "Accepted"
	AuthorizationBlocked      = "Blocked"
	AuthorizationExpired      = "Expired"
	AuthorizationInvalid      = "Invalid"
	AuthorizationConcurrentTx = "ConcurrentTx"
)

// StatusNotification status values.
const (
	ConnectorAvailable     = "Available"
	ConnectorPreparing     = "Preparing"
	ConnectorCharging      = "Charging"
	ConnectorSuspendedEVSE = "SuspendedEVSE"
	ConnectorSuspendedEV   = "SuspendedEV"
	ConnectorFinishing     = "Finishing"
	ConnectorReserved      = "Reserved"
	ConnectorUnavailable   = "Unavailable"
	ConnectorFaulted       = "Faulted"
)

// Statuses a charger may answer a command with that mean the command was not carried out.
const (
	StatusRejected        = "Rejected"
	StatusNotSupported    = "NotSupported"
	StatusNotImplemented  = "NotImplemented"
	StatusOccupied        = "Occupied"
	StatusFaulted         = "Faulted"
	StatusUnavailable     = "Unavailable"
	StatusFailed          = "Failed"
	StatusVersionMismatch = "VersionMismatch"
)

// CallError codes.
const (
	ErrorNotImplemented              = "NotImplemented"
	ErrorNotSupported                = "NotSupported"
	ErrorInternalError               = "InternalError"
	ErrorProtocolError               = "ProtocolError"
	ErrorSecurityError               = "SecurityError"
	ErrorFormationViolation          = "FormationViolation"
	ErrorPropertyConstraintViolation = "PropertyConstraintViolation"
	ErrorGenericError                = "GenericError"
)

// IsRejection reports whether a command response status means the charger refused the command.
func IsRejection(status string) bool {
	switch status {
	case StatusRejected, StatusNotSupported, StatusNotImplemented, StatusOccupied,
		StatusFaulted, StatusUnavailable, StatusFailed, StatusVersionMismatch:
		return true
	}
	return false
}
