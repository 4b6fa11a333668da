package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vnaveen0/glow/internal/compilation"
	"github.com/vnaveen0/glow/internal/config"
	"github.com/vnaveen0/glow/internal/graph"
	"github.com/vnaveen0/glow/internal/metrics"
	"github.com/vnaveen0/glow/internal/observability"
	"github.com/vnaveen0/glow/internal/partitioner"
	"github.com/vnaveen0/glow/internal/runtime"
	"github.com/vnaveen0/glow/internal/runtime/hostmanager"
	"github.com/vnaveen0/glow/internal/server"
)

func main() {
	var (
		configPath string
		modelPath  string
		jsonReport bool
		saturate   bool
	)

	rootCmd := &cobra.Command{
		Use:   "glow",
		Short: "Heterogeneous inference host runtime",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/glow.yaml", "Config file path")

	partitionCmd := &cobra.Command{
		Use:   "partition",
		Short: "Partition a model across the configured devices and report the plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPartition(configPath, modelPath, jsonReport, saturate)
		},
	}
	partitionCmd.Flags().StringVar(&modelPath, "model", "", "Model spec file (required)")
	partitionCmd.Flags().BoolVar(&jsonReport, "json", false, "Emit the report as JSON")
	partitionCmd.Flags().BoolVar(&saturate, "saturate-host", false, "Replicate partitions across idle devices")
	partitionCmd.MarkFlagRequired("model")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Admit a model and run one inference with zeroed inputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(configPath, modelPath, saturate)
		},
	}
	runCmd.Flags().StringVar(&modelPath, "model", "", "Model spec file (required)")
	runCmd.Flags().BoolVar(&saturate, "saturate-host", false, "Replicate partitions across idle devices")
	runCmd.MarkFlagRequired("model")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Admit a model and serve health/metrics until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, modelPath, saturate)
		},
	}
	serveCmd.Flags().StringVar(&modelPath, "model", "", "Model spec file (required)")
	serveCmd.Flags().BoolVar(&saturate, "saturate-host", false, "Replicate partitions across idle devices")
	serveCmd.MarkFlagRequired("model")

	rootCmd.AddCommand(partitionCmd, runCmd, serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupHost loads config + model and brings up an initialized host with the
// model admitted.
func setupHost(configPath, modelPath string, saturate bool) (*hostmanager.HostManager, *config.Config, string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, "", err
	}
	log := cfg.Log.Setup()
	slog.SetDefault(log)

	spec, err := config.LoadModelSpec(modelPath)
	if err != nil {
		return nil, nil, "", err
	}
	mod, err := spec.BuildModule()
	if err != nil {
		return nil, nil, "", err
	}

	popts := partitioner.Options{
		LoadBalance:   cfg.Partitioner.LoadBalance,
		LogPartition:  cfg.Partitioner.LogPartition,
		DumpPartition: cfg.Partitioner.DumpPartition,
		DumpDir:       cfg.Partitioner.DumpDir,
		Logger:        log,
	}
	if cfg.Partition.Enabled() {
		popts.PartitionConfig = &cfg.Partition
	}

	host := hostmanager.New(cfg.Host, hostmanager.Options{
		PartitionerOptions: popts,
		Logger:             log,
	})
	ctx := context.Background()
	if err := host.Init(ctx, cfg.Devices); err != nil {
		return nil, nil, "", err
	}

	if err := host.AddNetwork(ctx, mod, compilation.NewContext(), saturate || cfg.Partitioner.SaturateHost); err != nil {
		if cerr := host.ClearHost(ctx); cerr != nil {
			log.Warn("teardown after failed add", "error", cerr)
		}
		return nil, nil, "", err
	}
	return host, cfg, spec.Name, nil
}

func runPartition(configPath, modelPath string, jsonReport, saturate bool) error {
	host, _, network, err := setupHost(configPath, modelPath, saturate)
	if err != nil {
		return err
	}
	defer host.ClearHost(context.Background())

	report := metrics.New(network)
	report.CollectDevices(host.Devices())
	dag, err := host.GetNetworkDAG(network)
	if err != nil {
		return err
	}
	var mod *graph.Module
	if len(dag.Nodes) > 0 {
		mod = dag.Nodes[0].Module
	}
	report.CollectDAG(dag, mod)
	report.Finish()

	if jsonReport {
		return report.WriteJSON(os.Stdout)
	}
	report.Render(os.Stdout)
	return nil
}

func runOnce(configPath, modelPath string, saturate bool) error {
	host, _, network, err := setupHost(configPath, modelPath, saturate)
	if err != nil {
		return err
	}
	defer host.ClearHost(context.Background())

	ectx := runtime.NewExecutionContext()
	if err := host.RunNetworkBlocking(network, ectx); err != nil {
		return err
	}
	fmt.Printf("network %s ran, %d output buffers bound\n", network, ectx.Bindings.Count())
	return nil
}

func serve(configPath, modelPath string, saturate bool) error {
	host, cfg, network, err := setupHost(configPath, modelPath, saturate)
	if err != nil {
		return err
	}
	log := slog.Default()

	ctx := context.Background()
	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  "glow",
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}

	admin := server.NewAdminServer(host)
	admin.SetReady(true)

	shutdown := server.NewShutdownHandler(nil, log)
	shutdown.RegisterHook("admin", 10, admin.Stop)
	shutdown.RegisterHook("host", 20, host.ClearHost)
	shutdown.RegisterHook("tracing", 30, tp.Shutdown)
	shutdown.Start()

	addr := cfg.Admin.Addr
	log.Info("serving", "network", network, "admin_addr", addr)
	go func() {
		if err := admin.Start(addr); err != nil {
			log.Error("admin server", "error", err)
			shutdown.Shutdown()
		}
	}()

	shutdown.Wait()
	return nil
}
