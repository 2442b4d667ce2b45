package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/yzhou-ml/comfyfleet/pkg/comfy"
	"github.com/yzhou-ml/comfyfleet/pkg/retry"
)

// workersCmd represents the workers command
var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Manage generation workers",
	Long:  `Commands for inspecting the configured ComfyUI workers.`,
}

var workersCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Health-check every configured worker",
	Long:  `Probes each configured worker and reports which ones are reachable.`,
	RunE:  runWorkersCheck,
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.AddCommand(workersCheckCmd)
}

type workerStatus struct {
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func runWorkersCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := comfy.NewClient(5 * time.Second)
	statuses := make([]workerStatus, len(cfg.Servers))
	healthy := 0
	for i, url := range cfg.Servers {
		err := retry.Do(ctx, retry.Fixed(3, time.Second), func() error {
			return client.CheckHealth(ctx, url)
		})
		statuses[i] = workerStatus{URL: url, Healthy: err == nil}
		if err != nil {
			statuses[i].Error = err.Error()
		} else {
			healthy++
		}
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(statuses, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Worker", "Status")
	for _, s := range statuses {
		status := "healthy"
		if !s.Healthy {
			status = "unreachable"
		}
		table.Append(s.URL, status)
	}
	table.Render()
	fmt.Printf("\n%d/%d workers healthy\n", healthy, len(cfg.Servers))
	if healthy == 0 {
		return fmt.Errorf("no healthy workers")
	}
	return nil
}
