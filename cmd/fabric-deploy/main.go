package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jvreagan/fabric-deploy/pkg/artifact"
	"github.com/jvreagan/fabric-deploy/pkg/credentials"
	"github.com/jvreagan/fabric-deploy/pkg/deploy"
	"github.com/jvreagan/fabric-deploy/pkg/fabric"
	"github.com/jvreagan/fabric-deploy/pkg/plan"
	"github.com/jvreagan/fabric-deploy/pkg/workspace"
)

// Version information (set via ldflags during build)
var (
	version = "0.1.0"
	commit  = "none"
	date    = "unknown"
)

// Exit codes distinguish the failure class for calling scripts.
const (
	exitDeployFailure    = 1
	exitPlanInvalid      = 2
	exitAuthFailure      = 3
	exitWorkspaceFailure = 4
)

func main() {
	// Parse command line flags
	var (
		planFile      = flag.String("plan", "deploy-plan.yaml", "Path to deployment plan file")
		command       = flag.String("command", "deploy", "Command to execute: deploy, validate")
		workspaceName = flag.String("workspace", "", "Override the workspace name from the plan")
		parallel      = flag.Int("parallel", 0, "Override max parallel uploads (0 = use plan setting)")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("fabric-deploy version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built: %s\n", date)
		os.Exit(0)
	}

	// Load and validate the plan before touching the network
	p, err := plan.Load(*planFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading plan: %v\n", err)
		os.Exit(exitPlanInvalid)
	}
	if *workspaceName != "" {
		p.Workspace.Name = *workspaceName
	}
	if *parallel > 0 {
		p.Run.MaxParallel = *parallel
	}

	switch *command {
	case "validate":
		fmt.Printf("✓ Plan is valid (%d artifacts, workspace %q)\n", len(p.Artifacts), p.Workspace.Name)
		os.Exit(0)

	case "deploy":
		os.Exit(runDeploy(p))

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		fmt.Fprintf(os.Stderr, "Valid commands: deploy, validate\n")
		os.Exit(exitPlanInvalid)
	}
}

// runDeploy executes the full pipeline: credential acquisition, workspace
// resolution, dependency-ordered artifact deployment, and the final report.
func runDeploy(p *plan.Plan) int {
	// An interrupt stops issuing new uploads; in-flight calls finish or
	// time out on their own.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds, err := credentials.FromPlan(ctx, p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Authentication failed: %v\n", err)
		return exitAuthFailure
	}

	client := fabric.NewClient(p.Service.Endpoint, creds, &fabric.Options{
		RequestTimeout: p.Retry.RequestTimeout,
	})

	workspaceID, err := workspace.NewResolver(client).Ensure(ctx, p.Workspace.Name, p.Workspace.Description)
	if err != nil {
		var authErr *credentials.AuthError
		if errors.As(err, &authErr) {
			fmt.Fprintf(os.Stderr, "Authentication failed: %v\n", err)
			return exitAuthFailure
		}
		fmt.Fprintf(os.Stderr, "Workspace resolution failed: %v\n", err)
		return exitWorkspaceFailure
	}

	loader, err := newContentLoader(p)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error preparing content sources: %v\n", err)
		return exitDeployFailure
	}

	deployer := newDeployer(client, creds, loader, p)
	report, err := deployer.Run(ctx, p, p.Workspace.Name, workspaceID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running plan: %v\n", err)
		return exitPlanInvalid
	}

	fmt.Print(deploy.Format(report))
	if !report.Succeeded {
		return exitDeployFailure
	}
	return 0
}

// newDeployer wires the uploader and deployer from the plan's retry and
// run settings.
func newDeployer(client *fabric.Client, creds credentials.Provider, loader fabric.ContentLoader, p *plan.Plan) *deploy.Deployer {
	uploader := artifact.NewUploader(client, creds, loader, p.Retry)
	return deploy.New(uploader, p.Run)
}

// newContentLoader builds the artifact content loader, wiring blob storage
// access only when the plan actually references an azblob source.
func newContentLoader(p *plan.Plan) (fabric.ContentLoader, error) {
	loader := &fabric.Loader{}
	for _, a := range p.Artifacts {
		if a.Source.Type == "azblob" {
			fetcher, err := fabric.NewBlobFetcher(nil)
			if err != nil {
				return nil, err
			}
			loader.Blobs = fetcher
			break
		}
	}
	return loader, nil
}
