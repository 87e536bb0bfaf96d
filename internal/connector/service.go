package connector

import "context"

// Service runs a Factory as a lifecycle service: Start creates the
// connector and Stop destroys it.
type Service struct {
	factory *Factory
}

func NewService(f *Factory) *Service { return &Service{factory: f} }

func (s *Service) Name() string { return "connector" }

func (s *Service) Start(ctx context.Context) error { return s.factory.CreateConnector(ctx) }

func (s *Service) Stop(ctx context.Context) error { return s.factory.Destroy(ctx) }

// Factory returns the wrapped factory.
func (s *Service) Factory() *Factory { return s.factory }
