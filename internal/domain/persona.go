package domain

import "time"

// Persona is a person record as stored server-side.
//
// RUT is kept in plaintext and must never leave the service; ReligionHash is a
// one-way digest and the original value cannot be recovered from it.
type Persona struct {
	ID           int64
	PublicID     string
	RUT          string
	FirstName    string
	LastName     string
	ReligionHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PersonaView is the redacted representation returned to clients.
type PersonaView struct {
	PublicID  string
	RUTToken  string
	FirstName string
	LastName  string
}
