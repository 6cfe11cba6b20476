package main

import (
	"context"
	"fmt"

	"github.com/jogardn/agrimarket/internal/catalog"
	"github.com/jogardn/agrimarket/internal/config"
	"github.com/spf13/cobra"
)

func seedCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the demo catalog into an empty store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreDriver == config.DriverMemory {
				return fmt.Errorf("seed needs a persistent store; STORE_DRIVER is %q", cfg.StoreDriver)
			}
			if file == "" {
				file = cfg.Seed.File
			}

			ctx := context.Background()
			st, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			doc, err := catalog.LoadSeed(file)
			if err != nil {
				return err
			}
			n, err := catalog.Seed(ctx, st, doc, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML seed file (defaults to the built-in catalog)")
	return cmd
}
