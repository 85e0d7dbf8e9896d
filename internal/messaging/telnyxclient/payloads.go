package telnyxclient

import (
	"errors"
	"strings"
	"time"
)

// SendMessageRequest describes an outbound SMS/MMS payload.
type SendMessageRequest struct {
	From               string
	To                 string
	Body               string
	MediaURLs          []string
	MessagingProfileID string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
		return errors.New("telnyxclient: from and to numbers required")
	}
	if strings.TrimSpace(r.Body) == "" && len(r.MediaURLs) == 0 {
		return errors.New("telnyxclient: body or media required")
	}
	return nil
}

// MessageResponse represents the Telnyx message resource.
type MessageResponse struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	CompletedAt    time.Time `json:"completed_at"`
	Direction      string    `json:"direction"`
	Parts          int       `json:"parts"`
	Payload        string    `json:"payload"`
	Media          []string  `json:"media_urls,omitempty"`
	CarrierMessage string    `json:"carrier_status"`
}
