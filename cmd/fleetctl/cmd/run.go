package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/yzhou-ml/comfyfleet/pkg/comfy"
	"github.com/yzhou-ml/comfyfleet/pkg/config"
	"github.com/yzhou-ml/comfyfleet/pkg/dispatcher"
	"github.com/yzhou-ml/comfyfleet/pkg/imaging"
	"github.com/yzhou-ml/comfyfleet/pkg/logging"
	"github.com/yzhou-ml/comfyfleet/pkg/metrics"
	"github.com/yzhou-ml/comfyfleet/pkg/models"
	"github.com/yzhou-ml/comfyfleet/pkg/orchestrator"
	"github.com/yzhou-ml/comfyfleet/pkg/planner"
	"github.com/yzhou-ml/comfyfleet/pkg/poller"
	"github.com/yzhou-ml/comfyfleet/pkg/retriever"
	"github.com/yzhou-ml/comfyfleet/pkg/statusstore"
	"github.com/yzhou-ml/comfyfleet/pkg/workerpool"
	"github.com/yzhou-ml/comfyfleet/pkg/workflow"
)

var (
	runSeed      int64
	runBatchSize int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a batch generation run",
	Long: `Scans the input library, plans jobs per the configured quotas, and
dispatches them across the healthy workers with bounded concurrency.
Interrupting the run stops admission; in-flight jobs drain first.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "random seed (0 picks one from the clock)")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "override configured batch size")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	// Stop admitting new jobs on Ctrl-C; in-flight jobs finish.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seed := runSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	log.Info("run starting", map[string]any{"seed": seed, "config": cfgFile})

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	wf, err := workflow.Load(cfg.Workflow.TemplatePath, cfg.Workflow.NodeConfigPath, rng)
	if err != nil {
		return err
	}

	roles := cfg.PlannerRoles()
	ret := retriever.New(retriever.Config{
		TargetFolders:  cfg.Retriever.TargetFolders,
		FolderKeywords: cfg.Retriever.FolderKeywords,
		Extensions:     cfg.ExtensionSet(),
	}, log)
	files, err := ret.Scan()
	if err != nil {
		return fmt.Errorf("scan inputs: %w", err)
	}
	inputs := retriever.Classify(files, roles)

	pln, err := planner.New(roles, cfg.PlannerQuota(), cfg.ExtensionSet(), rng, log)
	if err != nil {
		return err
	}

	client := comfy.NewClient(comfy.DefaultTimeout)
	pool := workerpool.New(endpoints(cfg.Servers), client, log)
	d := dispatcher.New(pool, client, store,
		poller.Config{MaxRetries: cfg.Poll.MaxRetries, RetryDelay: cfg.Poll.RetryDelay},
		cfg.OutputRoot, log)

	batchSize := cfg.BatchSize
	if runBatchSize > 0 {
		batchSize = runBatchSize
	}
	met := metrics.New()
	o := orchestrator.New(pool, d, pln, payloadBuilder(cfg, wf), orchestrator.Config{BatchSize: batchSize}, met, log)

	report, err := o.Run(ctx, inputs)
	if err != nil {
		return err
	}
	return printReport(report)
}

// payloadBuilder resizes and base64-encodes each bound role image into the
// workflow template.
func payloadBuilder(cfg *config.Config, wf *workflow.Manager) orchestrator.PayloadBuilder {
	return func(bound map[string]string) (comfy.JobPayload, error) {
		values := make(map[string]any, len(bound))
		for role, path := range bound {
			encoded, err := imaging.EncodeBase64(path, cfg.ResizeShortEdge)
			if err != nil {
				return nil, fmt.Errorf("encode %s image %s: %w", role, path, err)
			}
			values[role] = encoded
		}
		return wf.Prepare(values)
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (statusstore.Store, error) {
	if cfg.Redis.Addr == "" {
		log.Warn("no redis address configured, task status will not survive the process", nil)
		return statusstore.NewMemory(), nil
	}
	store, err := statusstore.NewRedis(ctx, statusstore.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	log.Info("connected to redis", map[string]any{"addr": cfg.Redis.Addr})
	return store, nil
}

func endpoints(servers []string) []models.WorkerEndpoint {
	eps := make([]models.WorkerEndpoint, len(servers))
	for i, s := range servers {
		eps[i] = models.WorkerEndpoint{URL: s}
	}
	return eps
}

func printReport(report *models.RunReport) error {
	if IsJSONOutput() {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Run", "Planned", "Succeeded", "Failed", "Timed Out", "Elapsed")
	table.Append(
		report.RunID,
		fmt.Sprintf("%d", report.Planned),
		fmt.Sprintf("%d", report.Succeeded),
		fmt.Sprintf("%d", report.Failed),
		fmt.Sprintf("%d", report.TimedOut),
		report.Elapsed.Round(time.Second).String(),
	)
	table.Render()
	fmt.Printf("\nOutputs written: %d\n", len(report.OutputPaths))
	return nil
}
