package library

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/nexamediaserver/server/internal/log"
	"github.com/nexamediaserver/server/internal/media"
)

// Prober is the slice of the media prober the service needs.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.ProbeResult, error)
}

// Service serves parts with probe results attached, probing lazily and
// caching the outcome in the store. Concurrent first requests for the same
// part share one probe.
type Service struct {
	store  *Store
	prober Prober
	group  singleflight.Group
}

func NewService(store *Store, prober Prober) *Service {
	return &Service{store: store, prober: prober}
}

// GetProbed returns the part with properties populated, probing the file on
// first access.
func (s *Service) GetProbed(ctx context.Context, id string) (*Part, error) {
	part, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !part.ProbedAt.IsZero() {
		return part, nil
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		res, err := s.prober.Probe(ctx, part.Path)
		if err != nil {
			return nil, fmt.Errorf("library: probe %s: %w", part.Path, err)
		}
		if err := s.store.SetProperties(ctx, id, res.Properties, res.Rotation); err != nil {
			return nil, err
		}
		logger := log.WithComponent("library")
		logger.Info().
			Str(log.FieldPartID, id).
			Str(log.FieldContainer, res.Properties.Container).
			Str(log.FieldCodec, res.Properties.VideoCodec).
			Msg("part probed")

		part.Properties = res.Properties
		part.Rotation = res.Rotation
		return part, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Part), nil
}

// Store exposes the underlying registry for request paths that do not need
// probe results.
func (s *Service) Store() *Store { return s.store }
