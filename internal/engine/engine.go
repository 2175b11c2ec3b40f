// Package engine defines the fetch strategies and the cascade that chooses between them.
package engine

import (
	"context"

	"github.com/Loopxo/khoj/pkg/models"
)

// Page is a fetched document
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	HTML       string
	Screenshot []byte
}

// Strategy is the interface that all fetch engines must implement
type Strategy interface {
	// Fetch retrieves the document for req, applying the anti-bot policy
	Fetch(ctx context.Context, req *models.ExtractionRequest) (*Page, error)

	// Name returns the engine name reported in result metadata
	Name() string
}

// ProxyPicker chooses a proxy for a request and learns about failing ones
type ProxyPicker interface {
	Pick(cfg *models.ProxyConfig) string
	MarkFailed(proxy string)
}
