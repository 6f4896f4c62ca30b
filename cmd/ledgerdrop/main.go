package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/LedgerDrop/internal/bootstrap"
	"github.com/dharsanguruparan/LedgerDrop/internal/config"
	"github.com/dharsanguruparan/LedgerDrop/internal/database"
	"github.com/dharsanguruparan/LedgerDrop/internal/ingest"
	"github.com/dharsanguruparan/LedgerDrop/internal/logging"
)

var ownerID string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerdrop: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledgerdrop",
		Short: "LedgerDrop transaction file ingestion",
		Long: `LedgerDrop ingests CSV and spreadsheet transaction exports: files are stored,
queued and processed in batches by background workers while their status is tracked.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&ownerID, "owner", "o", "", "Owner id the uploads belong to")
	cmd.AddCommand(
		newIngestCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newMigrateCmd(),
		newWorkerCmd(),
	)
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func requireOwner() error {
	if ownerID == "" {
		return errors.New("--owner is required")
	}
	return nil
}

func newIngestCmd() *cobra.Command {
	var (
		standalone  bool
		mimeType    string
		description string
	)
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Upload a CSV or spreadsheet for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := requireOwner(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			req, err := readUpload(cfg, args[0], mimeType)
			if err != nil {
				return err
			}
			req.OwnerID = ownerID
			req.Description = description

			var app *bootstrap.App
			if standalone || cfg.Standalone {
				app = bootstrap.OpenStandalone(ctx, cfg)
			} else if app, err = bootstrap.Open(ctx, cfg); err != nil {
				return err
			}
			defer app.Close()

			receipt, err := app.Service.Accept(ctx, req)
			if err != nil {
				return err
			}
			if app.Pool == nil {
				return printJSON(cmd.OutOrStdout(), receipt)
			}
			if err := app.Pool.Wait(ctx); err != nil {
				return err
			}
			view, err := app.Service.GetStatus(ctx, receipt.UploadID, ownerID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
	cmd.Flags().BoolVar(&standalone, "standalone", false, "Process in-process with in-memory stores and print the final status")
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "Mimetype of the file (detected from the extension when empty)")
	cmd.Flags().StringVar(&description, "description", "", "Free-form description stored with the upload")
	return cmd
}

// readUpload applies the caller-side checks: allowed mimetype and size cap.
func readUpload(cfg *config.Config, path, mimeType string) (ingest.UploadRequest, error) {
	if mimeType == "" {
		mimeType = mimeFromName(path)
	}
	if !cfg.AllowsType(mimeType) {
		return ingest.UploadRequest{}, fmt.Errorf("file type %q is not allowed", mimeType)
	}
	info, err := os.Stat(path)
	if err != nil {
		return ingest.UploadRequest{}, err
	}
	if info.Size() > cfg.MaxFileSize {
		return ingest.UploadRequest{}, fmt.Errorf("file is %d bytes, limit is %d", info.Size(), cfg.MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ingest.UploadRequest{}, err
	}
	return ingest.UploadRequest{
		Data:     data,
		Filename: filepath.Base(path),
		MimeType: mimeType,
		Size:     int64(len(data)),
	}, nil
}

func mimeFromName(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	default:
		mt, _, _ := mime.ParseMediaType(mime.TypeByExtension(ext))
		return mt
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status UPLOAD_ID",
		Short: "Show the processing status of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := requireOwner(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := bootstrap.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			view, err := app.Service.GetStatus(ctx, args[0], ownerID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent uploads, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := requireOwner(); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := bootstrap.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			views, err := app.Service.History(ctx, ownerID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), views)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum uploads to list (defaults to history.limit)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := database.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume upload jobs from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := bootstrap.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.RunWorker(ctx)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
