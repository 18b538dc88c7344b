// Package delivery hands downloaded files to the messaging transport.
package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"web_relay/internal/extract"
	"web_relay/internal/logger"
	"web_relay/internal/models"
)

// Transport sends one file to one destination.
type Transport interface {
	SendVideo(ctx context.Context, chatID string, file io.Reader, filename string) error
	SendDocument(ctx context.Context, chatID string, file io.Reader, filename string) error
}

type DeliveryError struct {
	Path string
	Mode models.SendMode
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("send %s %s: %v", e.Mode, filepath.Base(e.Path), e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type Client struct {
	transport     Transport
	chatID        string
	videoSuffixes []string
	log           logger.Interface
}

func NewClient(transport Transport, chatID string, videoSuffixes []string, log logger.Interface) *Client {
	return &Client{
		transport:     transport,
		chatID:        chatID,
		videoSuffixes: videoSuffixes,
		log:           log,
	}
}

// ModeFor picks the send call for a local file by its suffix.
func (c *Client) ModeFor(path string) models.SendMode {
	if extract.HasSuffix(path, c.videoSuffixes) {
		return models.SendModeVideo
	}
	return models.SendModeDocument
}

// Deliver sends the file at path. Every failure, including an unreadable
// file, comes back as a *DeliveryError.
func (c *Client) Deliver(ctx context.Context, path string) (models.SendMode, error) {
	mode := c.ModeFor(path)

	f, err := os.Open(path)
	if err != nil {
		return mode, &DeliveryError{Path: path, Mode: mode, Err: err}
	}
	defer f.Close()

	name := filepath.Base(path)
	switch mode {
	case models.SendModeVideo:
		err = c.transport.SendVideo(ctx, c.chatID, f, name)
	default:
		err = c.transport.SendDocument(ctx, c.chatID, f, name)
	}
	if err != nil {
		return mode, &DeliveryError{Path: path, Mode: mode, Err: err}
	}

	c.log.Debug("file sent", "file", name, "mode", string(mode))
	return mode, nil
}
