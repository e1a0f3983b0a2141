package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/certified-builder/api/internal/services"
)

// NewBuildCommand fetches a product's orders from the order source and ingests them.
func NewBuildCommand(root *RootOptions) *cobra.Command {
	var productID int
	cmd := &cobra.Command{
		Use:     "build",
		Short:   "Ingest the orders of a product from the order source",
		Example: `  certctl build --product-id 100`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return requireProductID(productID)
		},
		RunE: root.withRuntime(func(cmd *cobra.Command, rt *Runtime) error {
			result, err := rt.Intake.BuildOrders(cmd.Context(), productID)
			return root.writeBuild(cmd, result, err, "build failed")
		}),
	}
	cmd.Flags().IntVar(&productID, "product-id", 0, "product to build (required)")
	_ = cmd.MarkFlagRequired("product-id")
	return cmd
}

// NewReplayCommand ingests raw orders read from a JSON file.
func NewReplayCommand(root *RootOptions) *cobra.Command {
	var (
		file string
		raws []services.RawOrder
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Ingest raw orders from a JSON file",
		Long: `Read a JSON array of raw orders in the order source format and run them through
intake. Orders already stored are reported as existing and are not republished.`,
		Example: `  certctl replay --file orders.json`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if raws, err = readRawOrders(file); err != nil {
				return WrapExitError(ExitCommandError, "failed to read orders", err)
			}
			return nil
		},
		RunE: root.withRuntime(func(cmd *cobra.Command, rt *Runtime) error {
			result, err := rt.Intake.BuildOrdersFromRaw(cmd.Context(), raws)
			return root.writeBuild(cmd, result, err, "replay failed")
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file holding raw orders (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// NewStatsCommand prints certificate counters for a product.
func NewStatsCommand(root *RootOptions) *cobra.Command {
	var productID int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show certificate counters for a product",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return requireProductID(productID)
		},
		RunE: root.withRuntime(func(cmd *cobra.Command, rt *Runtime) error {
			stats, err := rt.Certificates.Stats(cmd.Context(), productID)
			if err != nil {
				return WrapExitError(ExitFailure, "stats failed", err)
			}
			return root.write(cmd.OutOrStdout(), stats)
		}),
	}
	cmd.Flags().IntVar(&productID, "product-id", 0, "product to inspect (required)")
	_ = cmd.MarkFlagRequired("product-id")
	return cmd
}

// NewCertificatesCommand lists a product's certificates, refreshing expired links.
func NewCertificatesCommand(root *RootOptions) *cobra.Command {
	var (
		productID int
		notify    bool
	)
	cmd := &cobra.Command{
		Use:   "certificates",
		Short: "List the certificates of a product",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return requireProductID(productID)
		},
		RunE: root.withRuntime(func(cmd *cobra.Command, rt *Runtime) error {
			list := rt.Certificates.ListCertificates
			if notify {
				list = rt.Certificates.NotifyCertificates
			}
			views, err := list(cmd.Context(), productID)
			if err != nil {
				return WrapExitError(ExitFailure, "listing certificates failed", err)
			}
			if views == nil {
				views = []services.CertificateView{}
			}
			return root.write(cmd.OutOrStdout(), views)
		}),
	}
	cmd.Flags().IntVar(&productID, "product-id", 0, "product to list (required)")
	cmd.Flags().BoolVar(&notify, "notify", false, "also push the list to the order source")
	_ = cmd.MarkFlagRequired("product-id")
	return cmd
}

// NewDeleteProductCommand removes a product with its orders, certificates and artifacts.
func NewDeleteProductCommand(root *RootOptions) *cobra.Command {
	var (
		productID int
		yes       bool
	)
	cmd := &cobra.Command{
		Use:   "delete-product",
		Short: "Delete a product and everything stored for it",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := requireProductID(productID); err != nil {
				return err
			}
			if !yes {
				return WrapExitError(ExitCommandError, fmt.Sprintf("refusing to delete product %d without --yes", productID), nil)
			}
			return nil
		},
		RunE: root.withRuntime(func(cmd *cobra.Command, rt *Runtime) error {
			deletion, err := rt.Products.DeleteProduct(cmd.Context(), productID)
			if err != nil {
				return WrapExitError(ExitFailure, "delete failed", err)
			}
			return root.write(cmd.OutOrStdout(), deletion)
		}),
	}
	cmd.Flags().IntVar(&productID, "product-id", 0, "product to delete (required)")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	_ = cmd.MarkFlagRequired("product-id")
	return cmd
}

// NewConsumeCommand runs only the completion subscriber until interrupted.
func NewConsumeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Consume certificate completion messages until interrupted",
		RunE: root.withRuntime(func(cmd *cobra.Command, rt *Runtime) error {
			if rt.Consumer == nil {
				return WrapExitError(ExitCommandError, "completion subscriber not configured", nil)
			}
			consumer, err := rt.Consumer()
			if err != nil {
				return WrapExitError(ExitCommandError, "completion subscriber unavailable", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintln(cmd.ErrOrStderr(), "consuming certificate completion messages; press Ctrl+C to stop")
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitFailure, "subscriber stopped", err)
			}
			return nil
		}),
	}
}

// writeBuild prints the intake result. A publish failure still prints, since the orders were stored.
func (o *RootOptions) writeBuild(cmd *cobra.Command, result services.BuildOrdersResult, err error, msg string) error {
	if err != nil && !errors.Is(err, services.ErrPublishFailed) {
		return WrapExitError(ExitFailure, msg, err)
	}
	if writeErr := o.write(cmd.OutOrStdout(), result); writeErr != nil {
		return writeErr
	}
	if err != nil {
		return WrapExitError(ExitFailure, "orders stored but not published", err)
	}
	return nil
}

func readRawOrders(path string) ([]services.RawOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raws []services.RawOrder
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return raws, nil
}
