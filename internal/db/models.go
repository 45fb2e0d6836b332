package db

import (
	"time"
)

// Command is the actuator command stored on an irrigation system
type Command string

const (
	CommandOn  Command = "LIGAR"
	CommandOff Command = "DESLIGAR"
)

// Reading kinds as labelled by the channel mappings
const (
	KindAirTemperature = "Temperatura do Ar"
	KindSoilMoisture   = "Umidade do Solo"
	KindAirHumidity    = "Umidade do Ar"
)

// ActionAutoOn is the event action written when automation turns irrigation on
const ActionAutoOn = "LIGOU_AUTOMATICO"

// System represents an irrigation system in the database
type System struct {
	ID             int64
	Name           string
	ChannelID      string
	ReadAPIKey     string
	CultureID      *int64
	CurrentCommand Command
}

// HasCulture reports whether a culture is assigned to the system
func (s System) HasCulture() bool {
	return s.CultureID != nil
}

// Mapping links a feed field number to a reading kind for one system
type Mapping struct {
	ID          int64
	SystemID    int64
	FieldNumber int
	Kind        string
}

// Reading represents a persisted sensor reading
type Reading struct {
	ID        int64
	MappingID int64
	Value     float64
	Timestamp time.Time
}

// ETEstimate represents a computed evapotranspiration value (mm/day)
type ETEstimate struct {
	ID         int64
	SystemID   int64
	Value      float64
	ComputedAt time.Time
}

// Event represents an irrigation audit event
type Event struct {
	ID         int64
	SystemID   int64
	Action     string
	Reason     string
	OccurredAt time.Time
}
