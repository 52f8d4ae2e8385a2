package setup

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mri-screening-server/internal/domain"
	"github.com/mri-screening-server/internal/service"
)

// CLI provides command-line interface for maintenance operations.
type CLI struct {
	ServerType string // "lite" or "full"
	store      Store
	users      *service.UserService
	config     *domain.Config
	out        io.Writer
}

// NewCLI creates a new setup CLI instance.
func NewCLI(serverType string, store Store, users *service.UserService, config *domain.Config) *CLI {
	return &CLI{
		ServerType: serverType,
		store:      store,
		users:      users,
		config:     config,
		out:        os.Stdout,
	}
}

// Run executes the setup command based on the provided arguments.
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.showHelp()
	}

	switch args[0] {
	case "bootstrap-admin":
		return c.bootstrapAdmin(ctx, args[1:])
	case "seed":
		return c.seed(ctx)
	case "status":
		return c.showStatus(ctx)
	case "export":
		return c.export(ctx, args[1:])
	case "help", "--help", "-h":
		return c.showHelp()
	default:
		fmt.Fprintf(c.out, "Unknown command: %s\n\n", args[0])
		return c.showHelp()
	}
}

// showHelp displays usage information.
func (c *CLI) showHelp() error {
	fmt.Fprintf(c.out, `
MRI Screening Server Setup

Usage:
  %s setup <command> [options]

Commands:
  bootstrap-admin  Create the administrator account if missing
  seed             Create a sample doctor and patient
  status           Show store status and record counts
  export           Write all prediction records as JSON (lite only)

Examples:
  # Create the admin from configuration
  %[1]s setup bootstrap-admin

  # Create the admin with explicit credentials
  %[1]s setup bootstrap-admin --email admin@healthcare.com --password s3cret-pass

  # Export records to a file
  %[1]s setup export --output predictions.json
`, c.binaryName())
	return nil
}

func (c *CLI) binaryName() string {
	if c.ServerType == "lite" {
		return "server-lite"
	}
	return "server"
}

// bootstrapAdmin creates the administrator account.
func (c *CLI) bootstrapAdmin(ctx context.Context, args []string) error {
	email := c.config.Bootstrap.AdminEmail
	password := c.config.Bootstrap.AdminPassword

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--email", "-e":
			if i+1 < len(args) {
				email = args[i+1]
				i++
			}
		case "--password", "-p":
			if i+1 < len(args) {
				password = args[i+1]
				i++
			}
		}
	}

	created, err := c.users.EnsureAdmin(ctx, email, password)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(c.out, "✓ Administrator %s created\n", email)
	} else {
		fmt.Fprintf(c.out, "- Administrator %s already exists\n", email)
	}
	return nil
}

// seed creates the sample accounts.
func (c *CLI) seed(ctx context.Context) error {
	created, err := Seed(ctx, c.users)
	if err != nil {
		return err
	}
	if len(created) == 0 {
		fmt.Fprintln(c.out, "- Sample accounts already exist")
		return nil
	}
	for _, email := range created {
		fmt.Fprintf(c.out, "✓ Created %s\n", email)
	}
	return nil
}

// showStatus displays the current setup status.
func (c *CLI) showStatus(ctx context.Context) error {
	backend := "postgres"
	if c.ServerType == "lite" {
		backend = "sqlite"
	}
	status, err := GetStatus(ctx, backend, c.store, c.config.Storage.UploadDir)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, "MRI Screening Server Status")
	fmt.Fprintln(c.out, "===========================")
	fmt.Fprintln(c.out)

	fmt.Fprintf(c.out, "Store (%s):\n", status.Backend)
	if status.StoreReachable {
		fmt.Fprintln(c.out, "  Status: ✓ Reachable")
		fmt.Fprintf(c.out, "  Admins: %d  Doctors: %d  Patients: %d\n",
			status.Users[domain.ADMIN], status.Users[domain.DOCTOR], status.Users[domain.PATIENT])
		if status.Stats != nil {
			fmt.Fprintf(c.out, "  Predictions: %d (%d reviewed, %d pending)\n",
				status.Stats.Total, status.Stats.Reviewed, status.Stats.PendingReview)
		}
	} else {
		fmt.Fprintln(c.out, "  Status: ✗ Unreachable")
	}
	fmt.Fprintln(c.out)

	fmt.Fprintln(c.out, "Uploads:")
	fmt.Fprintf(c.out, "  Path: %s\n", status.UploadDir)
	if status.UploadDirExists {
		fmt.Fprintln(c.out, "  Status: ✓ Exists")
	} else {
		fmt.Fprintln(c.out, "  Status: - Will be created on first run")
	}
	fmt.Fprintln(c.out)

	if len(status.Issues) > 0 {
		fmt.Fprintln(c.out, "Issues:")
		for _, issue := range status.Issues {
			fmt.Fprintf(c.out, "  ⚠ %s\n", issue)
		}
		fmt.Fprintln(c.out)
	}

	return nil
}

// export writes every prediction record as JSON.
func (c *CLI) export(ctx context.Context, args []string) error {
	exporter, ok := c.store.(Exporter)
	if !ok {
		return fmt.Errorf("export is not supported by the %s store", c.ServerType)
	}

	var output string
	for i := 0; i < len(args); i++ {
		if (args[i] == "--output" || args[i] == "-o") && i+1 < len(args) {
			output = args[i+1]
			i++
		}
	}

	if output == "" {
		return exporter.ExportJSON(ctx, c.out)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := exporter.ExportJSON(ctx, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	fmt.Fprintf(c.out, "✓ Exported predictions to %s\n", output)
	return nil
}
