package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"bustime/internal/auth"
	"bustime/internal/orchestrator"
	"bustime/internal/storage"
)

func newRootCmd(build appBuilder) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "bustime",
		Short: "Fact-verified longtail content pipeline for bustime.site",
		Long: `bustime generates longtail keyword combinations, verifies them against
public transit APIs and publishes content pages for the verified ones.

Example usage:
  bustime serve                      # HTTP API + scheduler (default)
  bustime run-once                   # one verify + publish run
  bustime generate --limit 100       # insert keyword combinations
  bustime seed --file seed.yaml      # load keyword dimensions and templates`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $CONFIG_FILE or config.yaml)")

	serve := newServeCmd(&configPath, build)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newRunOnceCmd(&configPath, build),
		newGenerateCmd(&configPath, build),
		newCollectCmd(&configPath, build),
		newSeedCmd(&configPath, build),
		newIssueTokenCmd(&configPath),
	)
	return root
}

func newRunOnceCmd(configPath *string, build appBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Run the verify and publish pipeline once and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			report, err := runOnceManual(cmd.Context(), cfg, build)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
}

// runOnceManual 装配依赖并手动触发一次编排。
func runOnceManual(ctx context.Context, cfg AppConfig, build appBuilder) (orchestrator.Report, error) {
	deps, cleanup, err := build(cfg)
	if err != nil {
		return orchestrator.Report{}, fmt.Errorf("build app: %w", err)
	}
	defer cleanup()
	return deps.orch.Run(ctx, orchestrator.TriggerManual)
}

func newGenerateCmd(configPath *string, build appBuilder) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate longtail keyword combinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			deps, cleanup, err := build(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := deps.gen.Generate(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d개의 롱테일 키워드 조합이 생성되었습니다.\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum combinations to insert (default from config)")
	return cmd
}

func newCollectCmd(configPath *string, build appBuilder) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Collect Seoul bus routes into the service table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			deps, cleanup, err := build(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := deps.collector.Collect(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newSeedCmd(configPath *string, build appBuilder) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load locations, actions, seasons, modifiers and templates from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var seed storage.SeedData
			if err := yaml.Unmarshal(data, &seed); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			deps, cleanup, err := build(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := deps.seeder.Seed(cmd.Context(), seed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d new rows\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "seed.yaml", "seed data file")
	return cmd
}

func newIssueTokenCmd(configPath *string) *cobra.Command {
	var adminID, username string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint an admin session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			token, err := auth.New(cfg.Auth).Issue(adminID, username)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminID, "admin", "", "admin id (token subject)")
	cmd.Flags().StringVar(&username, "username", "", "admin username")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
