package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bilusteknoloji/pipg/internal/pep"
	"github.com/bilusteknoloji/pipg/internal/pypi"
)

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithDriverLogger sets the structured logger used during resolution.
func WithDriverLogger(l *slog.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDriverMaxRoundWorkers bounds how many pending items a single round
// expands concurrently (spec.md §5 concurrency/resource model).
func WithDriverMaxRoundWorkers(n int) DriverOption {
	return func(d *Driver) {
		if n > 0 {
			d.maxWorkers = n
		}
	}
}

// WithDriverAllowPreRelease admits pre-release versions even when no
// constraint explicitly opts into one (spec.md §9 open question, resolved:
// off by default, mirroring pip's --pre flag).
func WithDriverAllowPreRelease(allow bool) DriverOption {
	return func(d *Driver) { d.allowPreRelease = allow }
}

// WithDriverFileSelector overrides the default wheel/sdist tie-break policy.
func WithDriverFileSelector(fs FileSelector) DriverOption {
	return func(d *Driver) {
		if fs != nil {
			d.fileSelector = fs
		}
	}
}

// Driver is the C7 resolution driver: it repeatedly drains the dirty set of
// the requirement queue, resolves each entry to a Candidate concurrently
// (bounded), expands its dependencies back into the queue, and converges
// when a round drains nothing new (spec.md §4.7).
type Driver struct {
	index    *Index
	metadata *Provider

	envs            []pep.TargetEnvironment
	allowPreRelease bool
	fileSelector    FileSelector
	maxWorkers      int
	logger          *slog.Logger
}

// NewDriver creates a resolution driver targeting the given environments.
func NewDriver(index *Index, metadata *Provider, envs []pep.TargetEnvironment, opts ...DriverOption) *Driver {
	d := &Driver{
		index:        index,
		metadata:     metadata,
		envs:         envs,
		fileSelector: DefaultFileSelector,
		maxWorkers:   runtime.GOMAXPROCS(0),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Run resolves every root requirement to a fixed point, returning the
// solution graph and a tier diagnostic for every resolved node (spec.md §6
// "Outputs from the core").
func (d *Driver) Run(ctx context.Context, roots []pep.Requirement) (*Graph, []TierDiagnostic, error) {
	queue := NewQueue()
	graph := NewGraph()

	for _, root := range roots {
		applicability, err := pep.Evaluate(root.Marker, d.envs, root.Extras)
		if err != nil {
			return nil, nil, &MalformedResponse{Context: "root marker " + root.Name, Cause: err}
		}

		if applicability.Applicability == pep.None {
			continue
		}

		if err := queue.Push(root, applicability, ParentEdge{}); err != nil {
			return nil, nil, err
		}
	}

	var (
		diagMu      sync.Mutex
		diagnostics []TierDiagnostic
	)

	for {
		pending := queue.DrainPending()
		if len(pending) == 0 {
			break
		}

		// Record each drained state as selected before any task runs, so a
		// constraint a sibling task pushes during this round changes the
		// entry's fingerprint and drains it again in the next round.
		for _, item := range pending {
			queue.MarkSelected(item.Name)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.maxWorkers)

		var mu sync.Mutex

		for _, item := range pending {
			item := item

			g.Go(func() error {
				node, deps, err := d.expand(gctx, item)
				if err != nil {
					return &PathError{Path: parentPath(item), Cause: err}
				}

				mu.Lock()
				defer mu.Unlock()

				graph.Put(node)

				for _, e := range item.Parents {
					if e.ParentName != "" {
						graph.AddEdge(e.ParentName, item.Name, e.ParentExtras)
					}
				}

				for _, child := range deps {
					if err := queue.Push(child.req, child.applicability, ParentEdge{ParentName: item.Name, ParentExtras: item.Extras}); err != nil {
						return err
					}
				}

				diagMu.Lock()
				diagnostics = append(diagnostics, TierDiagnostic{Name: item.Name, Version: node.Version, Tier: node.SelectedFile.Metadata.Tier})
				diagMu.Unlock()

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, nil, err
		}
	}

	return graph, diagnostics, nil
}

type expandedDep struct {
	req           pep.Requirement
	applicability pep.Result
}

// expand resolves a single pending item to a Candidate and computes the
// (requirement, applicability) pairs its dependencies introduce, with the
// item's own environment restriction folded in (spec.md §4.7 step 3-4).
func (d *Driver) expand(ctx context.Context, item PendingItem) (SolutionNode, []expandedDep, error) {
	var (
		node SolutionNode
		md   PackageMetadata
	)

	if item.SourceURL != "" {
		var err error

		md, err = d.metadata.FetchDirectURL(ctx, item.Name, item.SourceURL)
		if err != nil {
			return SolutionNode{}, nil, err
		}

		node = SolutionNode{
			Name:           item.Name,
			Version:        md.Version,
			SelectedExtras: item.Extras,
			SelectedFile:   Candidate{File: pypi.URL{URL: item.SourceURL}, Metadata: md},
			IncomingEdges:  item.Parents,
		}
	} else {
		envs := d.envsFor(item)

		versions, err := d.index.ListVersions(ctx, item.Name)
		if err != nil {
			return SolutionNode{}, nil, err
		}

		cand, err := Select(ctx, item.Name, versions, item.Specifier, envs, d.allowPreRelease, d.fileSelector, d.metadata)
		if err != nil {
			return SolutionNode{}, nil, err
		}

		md = cand.Metadata
		node = SolutionNode{
			Name:           item.Name,
			Version:        cand.Version.String(),
			SelectedExtras: item.Extras,
			SelectedFile:   cand,
			IncomingEdges:  item.Parents,
		}
	}

	var deps []expandedDep

	for _, req := range md.RequiresDist {
		applicability, err := pep.Evaluate(req.Marker, d.envs, item.Extras)
		if err != nil {
			return SolutionNode{}, nil, &MalformedResponse{Context: fmt.Sprintf("dependency marker for %s", req.Name), Cause: err}
		}

		restricted := restrictApplicability(item, applicability, len(d.envs))
		if restricted.Applicability == pep.None {
			continue
		}

		deps = append(deps, expandedDep{req: req, applicability: restricted})
	}

	return node, deps, nil
}

// envsFor returns the subset of the driver's target environments that item
// actually applies to, per its accumulated marker applicability.
func (d *Driver) envsFor(item PendingItem) []pep.TargetEnvironment {
	if item.AllEnvs || len(d.envs) == 0 {
		return d.envs
	}

	out := make([]pep.TargetEnvironment, 0, len(item.EnvSubset))
	for _, i := range item.EnvSubset {
		out = append(out, d.envs[i])
	}

	return out
}

// restrictApplicability intersects a dependency's own marker applicability
// with the applicability already carried by the requiring node, so a
// dependency pulled in only under a platform-restricted parent never
// widens back out to every target environment (spec.md §4.2, §4.7).
func restrictApplicability(item PendingItem, dep pep.Result, totalEnvs int) pep.Result {
	if item.AllEnvs {
		return dep
	}

	parentSubset := make(map[int]bool, len(item.EnvSubset))
	for _, i := range item.EnvSubset {
		parentSubset[i] = true
	}

	var depSubset map[int]bool

	switch dep.Applicability {
	case pep.All:
		depSubset = nil // dep applies wherever parent applies
	case pep.None:
		return pep.Result{Applicability: pep.None}
	default:
		depSubset = make(map[int]bool, len(dep.Subset))
		for _, i := range dep.Subset {
			depSubset[i] = true
		}
	}

	var subset []int

	for i := range parentSubset {
		if depSubset == nil || depSubset[i] {
			subset = append(subset, i)
		}
	}

	switch {
	case len(subset) == 0:
		return pep.Result{Applicability: pep.None}
	case len(subset) == totalEnvs:
		return pep.Result{Applicability: pep.All}
	default:
		return pep.Result{Applicability: pep.Mixed, Subset: subset}
	}
}

func parentPath(item PendingItem) []string {
	path := make([]string, 0, len(item.Parents)+1)
	for _, p := range item.Parents {
		if p.ParentName != "" {
			path = append(path, p.ParentName)
		}
	}

	path = append(path, item.Name)

	return path
}
