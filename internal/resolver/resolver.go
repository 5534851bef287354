package resolver

import (
	"context"
	"log/slog"

	"github.com/bilusteknoloji/pipg/internal/build"
	"github.com/bilusteknoloji/pipg/internal/pep"
	"github.com/bilusteknoloji/pipg/internal/pypi"
)

// Resolver resolves a set of root requirements against one or more target
// environments into a complete solution graph (spec.md §1-§2 overview).
type Resolver interface {
	Resolve(ctx context.Context, roots []string) (*Graph, []TierDiagnostic, error)
}

// Option configures a Service.
type Option func(*Service)

// WithEnvironments sets the target environments every selected requirement
// must satisfy. At least one is required; multiple environments express a
// cross-platform/cross-version lockfile resolve (spec.md §3
// TargetEnvironment, §4.7).
func WithEnvironments(envs ...pep.TargetEnvironment) Option {
	return func(s *Service) {
		if len(envs) > 0 {
			s.envs = envs
		}
	}
}

// WithAllowPreRelease admits pre-release versions even absent an explicit
// pre-release specifier (spec.md §9).
func WithAllowPreRelease(allow bool) Option {
	return func(s *Service) { s.allowPreRelease = allow }
}

// WithFileSelector overrides the default wheel/sdist preference policy.
func WithFileSelector(fs FileSelector) Option {
	return func(s *Service) {
		if fs != nil {
			s.fileSelector = fs
		}
	}
}

// WithMetadataArchiveFetcher overrides how the tier-3 sdist builder
// downloads release archives; primarily a test seam.
func WithMetadataArchiveFetcher(f ArchiveFetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.archiveFetcher = f
		}
	}
}

// WithMetadataBuildRunner overrides the PEP 517 backend invocation used to
// recover metadata from an sdist when tiers 1-2 yield nothing.
func WithMetadataBuildRunner(r build.Runner) Option {
	return func(s *Service) {
		if r != nil {
			s.builder = r
		}
	}
}

// WithMaxRoundWorkers bounds per-round concurrency (spec.md §5).
func WithMaxRoundWorkers(n int) Option {
	return func(s *Service) { s.maxWorkers = n }
}

// WithLogger sets the structured logger threaded through the index,
// metadata provider, and driver.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service is the resolver facade wiring C1 (internal/pep grammars) through
// C8 (solution graph) into a single entry point (spec.md overview).
type Service struct {
	client pypi.Client

	envs            []pep.TargetEnvironment
	allowPreRelease bool
	fileSelector    FileSelector
	archiveFetcher  ArchiveFetcher
	builder         build.Runner
	maxWorkers      int
	logger          *slog.Logger
}

var _ Resolver = (*Service)(nil)

// New creates a resolver backed by the given registry client. At least one
// target environment must be supplied via WithEnvironments, or every
// requirement resolves as universally applicable against zero constraints.
func New(client pypi.Client, opts ...Option) *Service {
	s := &Service{
		client:       client,
		fileSelector: DefaultFileSelector,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Resolve parses root requirement strings and resolves them to a complete
// solution graph across every configured target environment (spec.md §4.7).
func (s *Service) Resolve(ctx context.Context, roots []string) (*Graph, []TierDiagnostic, error) {
	parsed := make([]pep.Requirement, 0, len(roots))

	for _, r := range roots {
		req := pep.ParseRequirement(r)

		parsed = append(parsed, req)
	}

	index := NewIndex(s.client, s.logger)

	var providerOpts []ProviderOption

	providerOpts = append(providerOpts, WithProviderLogger(s.logger))

	if s.archiveFetcher != nil {
		providerOpts = append(providerOpts, WithArchiveFetcher(s.archiveFetcher))
	}

	if s.builder != nil {
		providerOpts = append(providerOpts, WithBuildRunner(s.builder))
	}

	metadata := NewProvider(s.client, providerOpts...)

	driver := NewDriver(index, metadata, s.envs,
		WithDriverLogger(s.logger),
		WithDriverAllowPreRelease(s.allowPreRelease),
		WithDriverFileSelector(s.fileSelector),
		WithDriverMaxRoundWorkers(s.maxWorkers),
	)

	return driver.Run(ctx, parsed)
}
