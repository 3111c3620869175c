package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Record is implemented by every synchronised record type.
type Record interface {
	RecordID() uuid.UUID
	LastUpdated() time.Time
	IsDeleted() bool
}

// Meta holds identity and timestamps common to all records. DeletedAt marks a soft delete.
type Meta struct {
	ID        uuid.UUID  `json:"id" yaml:"id"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" yaml:"deleted_at"`
}

func (m Meta) RecordID() uuid.UUID { return m.ID }

func (m Meta) LastUpdated() time.Time { return m.UpdatedAt }

func (m Meta) IsDeleted() bool { return m.DeletedAt != nil }

// Patient is a person registered at a facility.
type Patient struct {
	Meta
	FullName    string `json:"full_name"`
	Gender      string `json:"gender"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Age         *int   `json:"age,omitempty"`
	Status      string `json:"status"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// BloodPressureMeasurement is a single reading taken for a patient.
type BloodPressureMeasurement struct {
	Meta
	PatientID  uuid.UUID `json:"patient_id"`
	FacilityID uuid.UUID `json:"facility_id"`
	UserID     uuid.UUID `json:"user_id"`
	Systolic   int       `json:"systolic"`
	Diastolic  int       `json:"diastolic"`
}

// PrescribedDrug is a medicine prescribed to a patient.
type PrescribedDrug struct {
	Meta
	PatientID      uuid.UUID `json:"patient_id"`
	FacilityID     uuid.UUID `json:"facility_id"`
	Name           string    `json:"name"`
	Dosage         string    `json:"dosage,omitempty"`
	RxNormCode     string    `json:"rxnorm_code,omitempty"`
	IsProtocolDrug bool      `json:"is_protocol_drug"`
}

// Appointment is a scheduled follow-up visit.
type Appointment struct {
	Meta
	PatientID     uuid.UUID `json:"patient_id"`
	FacilityID    uuid.UUID `json:"facility_id"`
	ScheduledDate string    `json:"scheduled_date"` // YYYY-MM-DD
	Status        string    `json:"status"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
}

// Communication records an attempt to reach a patient about an appointment.
type Communication struct {
	Meta
	AppointmentID uuid.UUID `json:"appointment_id"`
	UserID        uuid.UUID `json:"user_id"`
	Type          string    `json:"communication_type"`
	Result        string    `json:"communication_result"`
}

// Answer is a yes/no/unknown response in a medical history.
type Answer string

const (
	AnswerYes     Answer = "yes"
	AnswerNo      Answer = "no"
	AnswerUnknown Answer = "unknown"
)

// MedicalHistory holds a patient's risk factors.
type MedicalHistory struct {
	Meta
	PatientID                    uuid.UUID `json:"patient_id"`
	HasHadHeartAttack            Answer    `json:"prior_heart_attack"`
	HasHadStroke                 Answer    `json:"prior_stroke"`
	HasHadKidneyDisease          Answer    `json:"chronic_kidney_disease"`
	IsOnTreatmentForHypertension Answer    `json:"receiving_treatment_for_hypertension"`
	HasDiabetes                  Answer    `json:"diabetes"`
}

// Facility is reference data owned by the server.
type Facility struct {
	Meta            `yaml:",inline"`
	Name            string `json:"name" yaml:"name"`
	FacilityType    string `json:"facility_type,omitempty" yaml:"facility_type"`
	StreetAddress   string `json:"street_address,omitempty" yaml:"street_address"`
	VillageOrColony string `json:"village_or_colony,omitempty" yaml:"village_or_colony"`
	District        string `json:"district" yaml:"district"`
	State           string `json:"state" yaml:"state"`
	Country         string `json:"country" yaml:"country"`
	PinCode         string `json:"pin_code,omitempty" yaml:"pin_code"`
}
