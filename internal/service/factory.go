package service

import (
	"context"
	"fmt"
	"os"

	"github.com/Ning0612/pubsync/internal/adapter"
	"github.com/Ning0612/pubsync/internal/adapter/gdrive"
	"github.com/Ning0612/pubsync/internal/adapter/local"
	"github.com/Ning0612/pubsync/internal/adapter/s3"
	"github.com/Ning0612/pubsync/internal/config"
	"github.com/Ning0612/pubsync/internal/domain"
)

// TransportFactory creates adapters for every built-in transport type
type TransportFactory struct{}

// NewTransportFactory creates the default factory
func NewTransportFactory() *TransportFactory {
	return &TransportFactory{}
}

// Supports returns true if this factory can handle the transport type
func (f *TransportFactory) Supports(transportType domain.TransportType) bool {
	return transportType.IsValid()
}

// Create returns an adapter for the given transport and root path.
// Local roots are created when missing so a new publication can target an
// empty mount.
func (f *TransportFactory) Create(ctx context.Context, transport domain.Transport, root string) (adapter.Adapter, error) {
	switch transport.Type {
	case domain.TransportLocal:
		root = config.ExpandPath(root)
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("failed to create local root %s: %w", root, err)
		}
		a, err := local.New(root)
		if err != nil {
			return nil, fmt.Errorf("failed to create local adapter for %s: %w", transport.Name, err)
		}
		return a, nil
	case domain.TransportGDrive:
		a, err := gdrive.NewFromTransport(ctx, transport, root)
		if err != nil {
			return nil, fmt.Errorf("failed to create gdrive adapter for %s: %w", transport.Name, err)
		}
		return a, nil
	case domain.TransportS3:
		a, err := s3.NewFromTransport(ctx, transport, root)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 adapter for %s: %w", transport.Name, err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %s", transport.Type)
	}
}

var _ adapter.Factory = (*TransportFactory)(nil)
