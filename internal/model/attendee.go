package model

import "time"

// Attendee is a registered conference participant as served by the
// attendees endpoints, which use column-style keys.
type Attendee struct {
	ID        int64     `json:"ID"`
	Name      string    `json:"NAME"`
	Email     string    `json:"EMAIL"`
	Phone     string    `json:"PHONE,omitempty"`
	Company   string    `json:"COMPANY,omitempty"`
	Position  string    `json:"POSITION,omitempty"`
	AvatarURL string    `json:"AVATAR_URL,omitempty"`
	Gender    string    `json:"GENDER,omitempty"`
	CreatedAt time.Time `json:"CREATED_AT"`
}

// Contact converts an attendee row into a messaging contact scoped to a conference.
func (a Attendee) Contact(conferenceID int64) Contact {
	return Contact{
		ID:           a.ID,
		Name:         a.Name,
		Email:        a.Email,
		Phone:        a.Phone,
		Company:      a.Company,
		Position:     a.Position,
		Avatar:       a.AvatarURL,
		ConferenceID: conferenceID,
	}
}

// Conference is a conference summary.
type Conference struct {
	ID          int64     `json:"ID"`
	Name        string    `json:"NAME"`
	Description string    `json:"DESCRIPTION,omitempty"`
	StartDate   time.Time `json:"START_DATE"`
	EndDate     time.Time `json:"END_DATE"`
	Status      string    `json:"STATUS"`
	Location    string    `json:"LOCATION,omitempty"`
}

// PageMeta describes one page of a paginated list.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is a paginated list response.
type Page[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}
