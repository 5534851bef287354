package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bilusteknoloji/pipg/internal/lockfile"
	"github.com/bilusteknoloji/pipg/internal/pep"
	"github.com/bilusteknoloji/pipg/internal/pypi"
	"github.com/bilusteknoloji/pipg/internal/resolver"
)

var version = "0.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:           "pipg",
		Short:         "A tiered, metadata-driven Python dependency resolver",
		Long:          "pipg resolves Python package dependency graphs against PyPI's tiered metadata (release JSON, PEP 658 per-file METADATA, PEP 517 sdist builds), without installing anything.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve [packages...]",
		Short: "Resolve dependencies and print the dependency tree",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runResolve,
	}

	addResolveFlags(resolveCmd)
	rootCmd.AddCommand(resolveCmd)

	lockCmd := &cobra.Command{
		Use:   "lock [packages...]",
		Short: "Resolve dependencies and write a deterministic lockfile",
		Args:  cobra.MinimumNArgs(0),
		RunE:  runLock,
	}

	addResolveFlags(lockCmd)
	lockCmd.Flags().StringP("output", "o", "pipg.lock", "Lockfile path")

	rootCmd.AddCommand(lockCmd)

	return rootCmd.Execute()
}

// addResolveFlags registers the flags common to resolve and lock: what to
// resolve, and which target environment to resolve it against.
func addResolveFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("requirements", "r", "", "Resolve from a pip-compatible requirements file")
	cmd.Flags().String("python-version", "3.12", "Target Python version, e.g. 3.12")
	cmd.Flags().String("platform", defaultPlatformTag(), "Target wheel platform tag, e.g. linux_x86_64")
	cmd.Flags().BoolP("verbose", "v", false, "Verbose output")
}

type resolveFlags struct {
	reqFile       string
	pythonVersion string
	platform      string
	verbose       bool
}

func parseResolveFlags(cmd *cobra.Command) resolveFlags {
	reqFile, _ := cmd.Flags().GetString("requirements")
	pythonVersion, _ := cmd.Flags().GetString("python-version")
	platform, _ := cmd.Flags().GetString("platform")
	verbose, _ := cmd.Flags().GetBool("verbose")

	return resolveFlags{reqFile, pythonVersion, platform, verbose}
}

// runResolve runs the tiered resolver and prints the dependency tree.
func runResolve(cmd *cobra.Command, args []string) error {
	flags := parseResolveFlags(cmd)

	requirements, err := collectRequirements(args, flags.reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'pipg resolve <pkg>' or 'pipg resolve -r requirements.txt'")
	}

	logger := newLogger(flags.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pypiClient := pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithLogger(logger))

	_, err = resolveDeps(ctx, requirements, pypiClient, flags.pythonVersion, flags.platform, logger)

	return err
}

// runLock resolves dependencies and writes the solution graph's
// deterministic lockfile view to the configured output path.
func runLock(cmd *cobra.Command, args []string) error {
	flags := parseResolveFlags(cmd)
	output, _ := cmd.Flags().GetString("output")

	requirements, err := collectRequirements(args, flags.reqFile)
	if err != nil {
		return err
	}

	if len(requirements) == 0 {
		return fmt.Errorf("no packages specified; use 'pipg lock <pkg>' or 'pipg lock -r requirements.txt'")
	}

	logger := newLogger(flags.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	httpClient := &http.Client{Timeout: 30 * time.Second}
	pypiClient := pypi.New(pypi.WithHTTPClient(httpClient), pypi.WithLogger(logger))

	graph, err := resolveDeps(ctx, requirements, pypiClient, flags.pythonVersion, flags.platform, logger)
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("creating lockfile %s: %w", output, err)
	}
	defer func() { _ = f.Close() }()

	if err := lockfile.Write(f, graph); err != nil {
		return fmt.Errorf("writing lockfile: %w", err)
	}

	fmt.Printf("Wrote %s\n", output)

	return nil
}

func newLogger(verbose bool) *slog.Logger {
	logLevel := slog.LevelWarn
	if verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// resolveDeps runs the tiered resolver against the requested target
// environment and prints the resulting dependency tree.
func resolveDeps(ctx context.Context, requirements []string, pypiClient pypi.Client, pythonVersion, platformTag string, logger *slog.Logger) (*resolver.Graph, error) {
	fmt.Println("Resolving dependencies...")

	target := buildTargetEnvironment(pythonVersion, platformTag)
	compatTags := resolver.BuildCompatTags(pythonVersion, platformTag)

	resolverSvc := resolver.New(pypiClient,
		resolver.WithEnvironments(target),
		resolver.WithFileSelector(resolver.NewCompatFileSelector(compatTags)),
		resolver.WithLogger(logger),
	)

	graph, diagnostics, err := resolverSvc.Resolve(ctx, requirements)
	if err != nil {
		return nil, fmt.Errorf("resolving dependencies: %w", err)
	}

	for _, d := range diagnostics {
		logger.Debug("resolved via tier",
			slog.String("package", d.Name),
			slog.String("version", d.Version),
			slog.String("tier", d.Tier),
		)
	}

	rootNames := make([]string, 0, len(requirements))
	for _, r := range requirements {
		rootNames = append(rootNames, pep.ParseRequirement(r).Name)
	}

	printDependencyTree(rootNames, graph)

	return graph, nil
}

// collectRequirements merges CLI args and requirements file entries.
func collectRequirements(args []string, reqFile string) ([]string, error) {
	var requirements []string

	requirements = append(requirements, args...)

	if reqFile != "" {
		fileReqs, err := parseRequirementsFile(reqFile)
		if err != nil {
			return nil, err
		}

		requirements = append(requirements, fileReqs...)
	}

	return requirements, nil
}

// parseRequirementsFile reads a pip-compatible requirements file.
// Skips comments, empty lines, and pip options (lines starting with -).
func parseRequirementsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening requirements file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var reqs []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Strip inline comments.
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		// Skip empty lines and pip options (e.g., --index-url, -e, -c).
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}

		reqs = append(reqs, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading requirements file %s: %w", path, err)
	}

	return reqs, nil
}

// buildTargetEnvironment turns a dotted Python version and wheel platform
// tag into a PEP 508 marker environment for the resolver's single-
// environment case.
func buildTargetEnvironment(pythonVersion, platformTag string) pep.TargetEnvironment {
	var sysPlatform, osName, platformSystem string

	switch {
	case strings.HasPrefix(platformTag, "macosx"):
		sysPlatform = "darwin"
		osName = "posix"
		platformSystem = "Darwin"
	case strings.HasPrefix(platformTag, "linux"):
		sysPlatform = "linux"
		osName = "posix"
		platformSystem = "Linux"
	case strings.HasPrefix(platformTag, "win"):
		sysPlatform = "win32"
		osName = "nt"
		platformSystem = "Windows"
	default:
		sysPlatform = "linux"
		osName = "posix"
		platformSystem = "Linux"
	}

	return pep.TargetEnvironment{
		Label:             platformTag + "-py" + pythonVersion,
		PythonVersion:     pythonVersion,
		PythonFullVersion: pythonVersion,
		Implementation:    "cpython",
		SysPlatform:       sysPlatform,
		OsName:            osName,
		PlatformMachine:   platformMachine(platformTag),
		PlatformSystem:    platformSystem,
	}
}

// platformMachine extracts the architecture suffix from a wheel platform
// tag, e.g. "macosx_14_0_arm64" -> "arm64", "linux_x86_64" -> "x86_64".
// Wheel arch suffixes themselves contain underscores ("x86_64"), so this
// matches against the known suffixes rather than splitting on "_".
func platformMachine(platformTag string) string {
	for _, arch := range []string{"x86_64", "aarch64", "arm64", "amd64", "universal2"} {
		if strings.HasSuffix(platformTag, arch) {
			return arch
		}
	}

	return platformTag
}

// defaultPlatformTag derives a wheel platform tag for the host running
// pipg, used as the --platform flag's default.
func defaultPlatformTag() string {
	arch := goArchToWheelArch(runtime.GOARCH)

	switch runtime.GOOS {
	case "darwin":
		if arch == "arm64" {
			return "macosx_11_0_arm64"
		}

		return "macosx_10_9_x86_64"
	case "windows":
		return "win_amd64"
	default:
		return "linux_" + arch
	}
}

// goArchToWheelArch maps a Go GOARCH value to the architecture suffix
// wheel platform tags use.
func goArchToWheelArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	default:
		return goarch
	}
}

// printDependencyTree prints the solution graph as a dependency tree rooted
// at the requested packages.
func printDependencyTree(roots []string, graph *resolver.Graph) {
	children := make(map[string][]string)

	for _, e := range graph.IterEdges() {
		children[e.ParentName] = append(children[e.ParentName], e.ChildName)
	}

	visited := make(map[string]bool)

	for _, root := range roots {
		node, ok := graph.Get(root)
		if !ok {
			continue
		}

		fmt.Printf("  %s %s\n", node.Name, node.Version)

		visited[root] = true

		printSubTree(children[root], graph, children, "  ", visited)
	}
}

func printSubTree(deps []string, graph *resolver.Graph, children map[string][]string, prefix string, visited map[string]bool) {
	for i, depName := range deps {
		node, ok := graph.Get(depName)
		if !ok {
			continue
		}

		isLast := i == len(deps)-1

		connector := "├── "
		childPrefix := "│   "

		if isLast {
			connector = "└── "
			childPrefix = "    "
		}

		fmt.Printf("%s%s%s %s\n", prefix, connector, node.Name, node.Version)

		if !visited[depName] && len(children[depName]) > 0 {
			visited[depName] = true
			printSubTree(children[depName], graph, children, prefix+childPrefix, visited)
		}
	}
}
