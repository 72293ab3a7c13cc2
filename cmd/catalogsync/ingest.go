package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"catalogsync/config"
	"catalogsync/internal/source"
)

func newIngestCmd() *cobra.Command {
	var sourceFlag string

	cmd := &cobra.Command{
		Use:   "ingest <provider>",
		Short: "Run one ingestion pass for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := config.NormalizeProvider(args[0])
			if provider == "" {
				return errors.New("provider must not be empty")
			}

			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.ingest(cmd.Context(), provider, sourceFlag)
		},
	}

	cmd.Flags().StringVar(&sourceFlag, "source", "", "Feed directory, CSV file, or @URL (default: provider registry, then FEED_DIR/<provider>)")

	return cmd
}

// ingest resolves the provider's source and runs the pipeline over it.
func (a *app) ingest(ctx context.Context, provider, override string) error {
	location := a.config.SourceFor(provider, override)
	src, err := source.Resolve(location, a.config, a.logger)
	if err != nil {
		return fmt.Errorf("failed to resolve source %q: %w", location, err)
	}

	if _, err := a.pipeline.Run(ctx, provider, src); err != nil {
		return err
	}
	return nil
}
