package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenTestRig/internal/devices"
	"github.com/KevinKickass/OpenTestRig/internal/scenario"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	simulateOutput      string
	simulateSearchPaths []string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Replay a scenario against a simulated machine and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOutput != "json" && simulateOutput != "yaml" {
			return fmt.Errorf("unknown output format %q", simulateOutput)
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		sc, err := scenario.Load(args[0])
		if err != nil {
			return err
		}

		searchPaths := cfg.Machine.SearchPaths
		if len(simulateSearchPaths) > 0 {
			searchPaths = simulateSearchPaths
		}
		manager, err := devices.NewManager(searchPaths, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		result, err := scenario.NewRunner(manager, logger).Run(ctx, sc)
		if err != nil {
			return err
		}

		if err := writeResult(result, simulateOutput); err != nil {
			return err
		}
		if result.Status != scenario.StatusSuccess {
			return fmt.Errorf("scenario %q %s", sc.Name, result.Status)
		}
		return nil
	},
}

// writeResult prints result using its JSON field names in either format.
func writeResult(result *scenario.Result, format string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if format == "json" {
		_, err = fmt.Fprintln(os.Stdout, string(data))
		return err
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(generic)
}

func init() {
	simulateCmd.Flags().StringVarP(&simulateOutput, "output", "o", "yaml", "Result format (yaml, json)")
	simulateCmd.Flags().StringSliceVar(&simulateSearchPaths, "profiles", nil, "Profile search paths (overrides machine.search_paths)")
}
