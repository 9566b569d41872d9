package models

import "time"

type Booking struct {
	BookingID       string    `json:"booking_id"`
	PatientID       string    `json:"patient_id"`
	PatientName     string    `json:"patient_name,omitempty"`
	HospitalID      string    `json:"hospital_id"`
	HospitalName    string    `json:"hospital_name,omitempty"`
	Department      string    `json:"department"`
	DoctorID        string    `json:"doctor_id,omitempty"`
	DoctorName      string    `json:"doctor_name,omitempty"`
	AppointmentType string    `json:"appointment_type,omitempty"`
	Urgency         string    `json:"urgency,omitempty"`
	AppointmentDate time.Time `json:"appointment_date"`
	Status          string    `json:"status"`
}

const BookingStatusConfirmed = "confirmed"
