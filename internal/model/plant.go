package model

import "time"

type Plant struct {
	ID         string    `db:"id" json:"id"`
	GardenID   string    `db:"garden_id" json:"gardenId"`
	Name       string    `db:"name" json:"name"`
	Species    string    `db:"species" json:"species"`
	HardwareID *string   `db:"hardware_id" json:"hardwareId,omitempty"`
	CreatedBy  string    `db:"created_by" json:"createdBy"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Assigned reports whether the device has bound a sensor to the plant.
func (p *Plant) Assigned() bool {
	return p.HardwareID != nil && *p.HardwareID != ""
}

type CreatePlantParams struct {
	GardenID  string
	Name      string
	Species   string
	CreatedBy string
}

type MoistureReading struct {
	ID         int64     `db:"id" json:"id"`
	PlantID    string    `db:"plant_id" json:"plantId"`
	Moisture   float64   `db:"moisture" json:"moisture"`
	RecordedAt time.Time `db:"recorded_at" json:"recordedAt"`
}
