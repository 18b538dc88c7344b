package models

import (
	"net/url"
	"time"
)

type StartPoint struct {
	URL  string
	Host string
}

// NewStartPoint parses a configured root URL. The host includes the port, so
// http://h:8080 and http://h are distinct crawl scopes.
func NewStartPoint(raw string) (StartPoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return StartPoint{}, err
	}
	return StartPoint{URL: u.String(), Host: u.Host}, nil
}

type SendMode string

const (
	SendModeVideo    SendMode = "video"
	SendModeDocument SendMode = "document"
)

type FileResource struct {
	URL         string
	Fingerprint string
	Source      string
}

type DeliveryRecord struct {
	ID          string    `bson:"_id"`
	Fingerprint string    `bson:"fingerprint"`
	URL         string    `bson:"url,omitempty"`
	FileName    string    `bson:"file_name,omitempty"`
	Source      string    `bson:"source,omitempty"`
	Mode        SendMode  `bson:"mode,omitempty"`
	DeliveredAt time.Time `bson:"delivered_at"`
}

type CycleReport struct {
	ID               string
	Sites            int
	Candidates       int
	AlreadyDelivered int
	Fetched          int
	FetchFailures    int
	Delivered        int
	DeliveryFailures int
	StartedAt        time.Time
	Duration         time.Duration
}
