package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/yzhou-ml/comfyfleet/pkg/statusstore"
)

// tasksCmd represents the tasks command
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect task status",
	Long:  `Commands for looking up the recorded status of dispatched tasks.`,
}

var tasksGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Show the stored record for one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksGet,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksGetCmd)
}

func runTasksGet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("task lookup needs a configured redis address")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := statusstore.NewRedis(ctx, statusstore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	taskID := args[0]
	record, err := store.GetStatus(ctx, taskID)
	if err != nil {
		return fmt.Errorf("lookup task %s: %w", taskID, err)
	}
	if record == nil {
		return fmt.Errorf("task %s not found", taskID)
	}

	if IsJSONOutput() {
		out, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Property", "Value")
	table.Append([]string{"Task ID", taskID})
	table.Append([]string{"Status", string(record.Status)})
	table.Append([]string{"Updated", record.UpdatedAt.Format(time.RFC3339)})
	for key, value := range record.Data {
		table.Append([]string{key, fmt.Sprintf("%v", value)})
	}
	table.Render()
	return nil
}
