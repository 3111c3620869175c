// Package model defines domain entities shared by the device client and the reference server.
package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects an issued access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// Resource names a synchronised record type. It is used as the wire name and the table name.
type Resource string

const (
	ResourcePatients         Resource = "patients"
	ResourceBloodPressures   Resource = "blood_pressures"
	ResourcePrescriptions    Resource = "prescriptions"
	ResourceAppointments     Resource = "appointments"
	ResourceCommunications   Resource = "communications"
	ResourceMedicalHistories Resource = "medical_histories"
	ResourceFacilities       Resource = "facilities"
)

var tokenKeys = map[Resource]string{
	ResourcePatients:         "last_patient_pull_token",
	ResourceBloodPressures:   "last_bp_pull_token",
	ResourcePrescriptions:    "last_prescription_pull_token",
	ResourceAppointments:     "last_appointment_pull_token",
	ResourceCommunications:   "last_communication_pull_token",
	ResourceMedicalHistories: "last_medicalhistory_pull_token",
	ResourceFacilities:       "last_facility_pull_token",
}

// Resources lists every synchronised record type.
func Resources() []Resource {
	return append(PatientDataResources(), ResourceFacilities)
}

// PatientDataResources lists the record types wiped when local clinical data is cleared.
func PatientDataResources() []Resource {
	return []Resource{
		ResourcePatients,
		ResourceBloodPressures,
		ResourcePrescriptions,
		ResourceAppointments,
		ResourceCommunications,
		ResourceMedicalHistories,
	}
}

// Valid reports whether r is a known record type.
func (r Resource) Valid() bool {
	_, ok := tokenKeys[r]
	return ok
}

// TokenKey is the preference key holding the pull cursor for r.
func (r Resource) TokenKey() string { return tokenKeys[r] }

// PullOnly reports whether the server is the sole source of truth for r.
func (r Resource) PullOnly() bool { return r == ResourceFacilities }

// RecordChange is a single stored record revision on the server.
type RecordChange struct {
	Resource  Resource
	ID        uuid.UUID
	Payload   json.RawMessage // record as pushed by the client
	UpdatedAt time.Time
	Deleted   bool
	Ver       int64 // monotonically increasing per server
}
