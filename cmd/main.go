package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gops/agent"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"docuflow/internal/app"
	"docuflow/internal/config"
	"docuflow/internal/helper"
	"docuflow/internal/logging"
	"docuflow/internal/models"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	configPath string
	cfg        *config.Config

	docCategory   string
	categoryFlags []string
	withGops      bool
)

var rootCmd = &cobra.Command{
	Use:           "docuflow",
	Short:         "Ask questions about your PDF documents",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logging.Setup(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued ingestion jobs until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if withGops {
			if err := agent.Listen(agent.Options{ShutdownCleanup: true}); err != nil {
				log.Warn().Err(err).Msg("gops agent not started")
			}
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Build(ctx, *cfg)
		if err != nil {
			return err
		}
		defer closeApp(a)

		log.Info().Int("workers", cfg.Worker.Workers).Msg("Worker started")
		return a.RunWorkers(ctx)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>...",
	Short: "Upload PDFs and index them in this process",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, err := models.ParseCategory(docCategory)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Build(ctx, *cfg)
		if err != nil {
			return err
		}
		defer closeApp(a)

		var jobs []models.IngestJob
		for _, path := range args {
			job, err := uploadFile(ctx, a, path, category)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
		}
		if err := a.Drain(ctx); err != nil {
			return err
		}

		var failed int
		for i, job := range jobs {
			if jobs[i], err = a.Status(ctx, job.JobID); err != nil {
				return err
			}
			if jobs[i].Status != models.JobCompleted && jobs[i].Status != models.JobDuplicate {
				failed++
			}
		}
		if err := helper.PrettyPrint(cmd.OutOrStdout(), jobs); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d documents were not indexed", failed, len(jobs))
		}
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF and queue it for a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Queue.Type != "postgres" || cfg.Worker.JobStore != "postgres" {
			return errors.New("upload needs the postgres queue and job store; use ingest for a local run")
		}
		category, err := models.ParseCategory(docCategory)
		if err != nil {
			return err
		}
		a, err := app.Build(cmd.Context(), *cfg)
		if err != nil {
			return err
		}
		defer closeApp(a)

		job, err := uploadFile(cmd.Context(), a, args[0], category)
		if err != nil {
			return err
		}
		return helper.PrettyPrint(cmd.OutOrStdout(), job)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		categories, err := models.ParseCategories(categoryFlags)
		if err != nil {
			return err
		}
		a, err := app.Build(cmd.Context(), *cfg)
		if err != nil {
			return err
		}
		defer closeApp(a)

		answer, err := a.Query(cmd.Context(), models.QueryRequest{Question: args[0], Categories: categories})
		if err != nil {
			return err
		}
		return helper.PrettyPrint(cmd.OutOrStdout(), answer)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the state of an ingestion job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Build(cmd.Context(), *cfg)
		if err != nil {
			return err
		}
		defer closeApp(a)

		job, err := a.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return helper.PrettyPrint(cmd.OutOrStdout(), job)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the configured backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Build(cmd.Context(), *cfg)
		if err != nil {
			return err
		}
		defer closeApp(a)

		var unhealthy int
		report := make(map[string]string)
		for name, err := range a.Health(cmd.Context()) {
			report[name] = "ok"
			if err != nil {
				report[name] = err.Error()
				unhealthy++
			}
		}
		if err := helper.PrettyPrint(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if unhealthy > 0 {
			return fmt.Errorf("%d backends unhealthy", unhealthy)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the config file")

	workerCmd.Flags().BoolVar(&withGops, "gops", false, "start the gops diagnostics agent")
	ingestCmd.Flags().StringVar(&docCategory, "category", string(models.CategoryOther), "document category")
	uploadCmd.Flags().StringVar(&docCategory, "category", string(models.CategoryOther), "document category")
	queryCmd.Flags().StringSliceVar(&categoryFlags, "category", nil, "categories to search, repeatable; all when omitted")

	rootCmd.AddCommand(workerCmd, ingestCmd, uploadCmd, queryCmd, statusCmd, healthCmd)
}

func uploadFile(ctx context.Context, a *app.App, path string, category models.Category) (models.IngestJob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.IngestJob{}, err
	}
	job, err := a.Upload(ctx, data, category)
	if err != nil {
		return models.IngestJob{}, fmt.Errorf("%s: %w", path, err)
	}
	log.Info().Str("file", path).Str("job_id", job.JobID).Str("document_id", job.DocumentID).Msg("Queued")
	return job, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing backends")
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}
