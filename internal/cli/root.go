package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/certified-builder/api/internal/services"
)

// Exit codes for certctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, defaulting to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// Consumer runs the completion subscriber until ctx ends.
type Consumer interface {
	Run(ctx context.Context) error
}

// Runtime exposes the services the commands operate on.
type Runtime struct {
	Intake       services.IntakeService
	Certificates services.CertificateService
	Products     services.ProductService
	Consumer     func() (Consumer, error)
}

// Loader connects the runtime for one command. The returned release func runs once the
// command finishes.
type Loader func(ctx context.Context) (*Runtime, func(), error)

// RootOptions holds global flags and the runtime loader.
type RootOptions struct {
	Pretty bool

	load Loader
}

// NewRootCommand creates the certctl root command.
func NewRootCommand(load Loader) *cobra.Command {
	opts := &RootOptions{load: load}

	cmd := &cobra.Command{
		Use:   "certctl",
		Short: "Operate the certificate order intake pipeline",
		Long: `certctl runs intake and certificate maintenance tasks against the configured
document store, order source, bucket and Pub/Sub topics. Configuration is read from the
same API_* environment variables as the API server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVar(&opts.Pretty, "pretty", true, "indent JSON output")

	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewCertificatesCommand(opts))
	cmd.AddCommand(NewDeleteProductCommand(opts))
	cmd.AddCommand(NewConsumeCommand(opts))

	return cmd
}

// withRuntime loads the runtime before fn and releases it afterwards, whatever fn returns.
func (o *RootOptions) withRuntime(fn func(cmd *cobra.Command, rt *Runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if o.load == nil {
			return WrapExitError(ExitCommandError, "runtime loader not configured", nil)
		}
		rt, release, err := o.load(cmd.Context())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to initialise runtime", err)
		}
		if release != nil {
			defer release()
		}
		return fn(cmd, rt)
	}
}

func (o *RootOptions) write(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	if o.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(payload)
}

func requireProductID(productID int) error {
	if productID <= 0 {
		return WrapExitError(ExitCommandError, "--product-id must be a positive integer", nil)
	}
	return nil
}
