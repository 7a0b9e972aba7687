package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ormasoftchile/flume/pkg/runtime"
	"github.com/ormasoftchile/flume/pkg/schema"
	"github.com/spf13/cobra"
)

var (
	watchInterval  string
	watchBudget    float64
	watchInputFile string
	watchInputJSON string
	watchReplay    string
)

var watchCmd = &cobra.Command{
	Use:   "watch [pipeline.yaml]",
	Short: "Run a pipeline repeatedly at an interval",
	Long: `Run a pipeline repeatedly at an interval, printing a one-line summary
per run. The loop stops on the first failed run, or when cumulative LLM
spend crosses --budget.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	interval, err := time.ParseDuration(watchInterval)
	if err != nil {
		return fmt.Errorf("invalid --interval: %w", err)
	}

	// Validate once upfront
	p, result, err := schema.ValidateFile(filePath)
	if err != nil {
		return err
	}
	if errs := result.Errors(); len(errs) > 0 {
		return fmt.Errorf("validation failed with %d error(s)", len(errs))
	}

	input, err := loadInput(watchInputFile, watchInputJSON)
	if err != nil {
		return err
	}
	client, closeClient, err := buildClient(p, watchReplay, "")
	if err != nil {
		return err
	}
	defer closeClient()

	ctx := context.Background()
	spent := 0.0
	run := 0

	for {
		run++
		ts := time.Now().Format("15:04:05")

		eng, err := runtime.NewEngine(p, runtime.Options{
			Input:   input,
			Client:  client,
			BaseDir: filepath.Dir(filePath),
		})
		if err != nil {
			return err
		}

		runResult, runErr := eng.Run(ctx)
		if runErr != nil {
			fmt.Printf("%s  ✗ run %d failed: %v\n", ts, run, runErr)
			return runErr
		}

		spent += runResult.TotalCostUSD
		fmt.Printf("%s  ✓ run %d   %.0fms   $%.4f (total $%.4f)\n",
			ts, run, runResult.TotalDurationMS, runResult.TotalCostUSD, spent)

		if watchBudget > 0 && spent >= watchBudget {
			fmt.Printf("  Watch stopped: spend $%.4f reached --budget %.2f\n", spent, watchBudget)
			return nil
		}

		time.Sleep(interval)
	}
}

func init() {
	watchCmd.Flags().StringVar(&watchInterval, "interval", "5m", "Time between runs (e.g., 5m, 30s)")
	watchCmd.Flags().Float64Var(&watchBudget, "budget", 0, "Stop once cumulative LLM spend in USD reaches this amount (0 = no limit)")
	watchCmd.Flags().StringVarP(&watchInputFile, "input", "i", "", "Path to a YAML or JSON file with the run input")
	watchCmd.Flags().StringVar(&watchInputJSON, "input-json", "", "Inline JSON object merged over --input values")
	watchCmd.Flags().StringVar(&watchReplay, "replay", "", "Replay LLM calls from a recorded file")
	rootCmd.AddCommand(watchCmd)
}
