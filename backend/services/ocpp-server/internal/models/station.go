package models

import "time"

// Station represents a charging station as last reported by BootNotification.
type Station struct {
	ID              string    `db:"id" json:"id"`
	Vendor          string    `db:"vendor" json:"vendor"`
	Model           string    `db:"model" json:"model"`
	SerialNumber    string    `db:"serial_number" json:"serialNumber,omitempty"`
	FirmwareVersion string    `db:"firmware_version" json:"firmwareVersion"`
	LastHeartbeat   time.Time `db:"last_heartbeat" json:"lastHeartbeat"`
	Status          string    `db:"status" json:"status"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

// Frame is one logged OCPP frame.
type Frame struct {
	StationID   string    `json:"stationId"`
	Direction   string    `json:"direction"`
	MessageType string    `json:"messageType"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"createdAt"`
}
