package api

import (
	"time"

	"github.com/google/uuid"
)

type SlotResponse struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Kind    string    `json:"kind"`
	Visible bool      `json:"visible"`
}

type SlotListResponse struct {
	CalendarID uuid.UUID      `json:"calendar_id"`
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	Slots      []SlotResponse `json:"slots"`
}

type BookSlotRequest struct {
	CalendarID string    `json:"calendar_id"`
	PatientID  string    `json:"patient_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Kind       string    `json:"kind"`
	Location   string    `json:"location,omitempty"`
}

type AppointmentResponse struct {
	ID         uuid.UUID `json:"id"`
	CalendarID uuid.UUID `json:"calendar_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Status     string    `json:"status"`
	Kind       string    `json:"kind"`
	Location   *string   `json:"location,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
