package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/apievaluator/resultsapi/pkg/api/store"
	"github.com/apievaluator/resultsapi/pkg/config"
	"github.com/apievaluator/resultsapi/pkg/export"
	"github.com/apievaluator/resultsapi/pkg/upload"
	"github.com/spf13/cobra"
)

var (
	exportOutput string
	exportFormat string
	exportToS3   bool
	exportMethod string
	exportPath   string
	exportStatus int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored test results",
	Long: `Export stored test results, optionally filtered, as a JSON or YAML
document. The document is written to --output or uploaded to the
S3-compatible storage configured under export.s3.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "-",
		"Output file path (\"-\" for stdout)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "json",
		"Output format (json, yaml)")
	exportCmd.Flags().BoolVar(&exportToS3, "s3", false,
		"Upload the export to S3 instead of writing it locally")
	exportCmd.Flags().StringVar(&exportMethod, "method", "",
		"Only export results for this endpoint method")
	exportCmd.Flags().StringVar(&exportPath, "path", "",
		"Only export results whose endpoint path contains this text")
	exportCmd.Flags().IntVar(&exportStatus, "status", 0,
		"Only export results with this status code")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	// Keep stdout clean for the document itself.
	if !exportToS3 && (exportOutput == "" || exportOutput == "-") {
		log.SetOutput(os.Stderr)
	}

	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	var uploader upload.Uploader

	if exportToS3 {
		if err := cfg.ValidateExportS3(); err != nil {
			return err
		}

		uploader, err = upload.NewS3Uploader(log, &cfg.Export.S3)
		if err != nil {
			return fmt.Errorf("creating S3 uploader: %w", err)
		}
	}

	filter := store.Filter{Method: exportMethod, Path: exportPath}
	if cmd.Flags().Changed("status") {
		status := exportStatus
		filter.Status = &status
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if uploader != nil {
		if err := uploader.Preflight(ctx); err != nil {
			return fmt.Errorf("s3 preflight: %w", err)
		}
	}

	st := store.NewStore(log, &cfg.Database)

	startCtx, cancel := context.WithTimeout(ctx, 2*cfg.Database.Timeout)
	defer cancel()

	if err := st.Start(startCtx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to close database")
		}
	}()

	now := time.Now()

	doc, err := export.Collect(ctx, st, filter, cfg.Pagination.MaxLimit, now)
	if err != nil {
		return fmt.Errorf("collecting test results: %w", err)
	}

	log.WithField("total", doc.Total).
		WithField("format", format).
		Info("Collected test results")

	if uploader != nil {
		var buf bytes.Buffer
		if err := export.Encode(&buf, doc, format); err != nil {
			return err
		}

		key, err := uploader.Upload(ctx, format.FileName(now), &buf)
		if err != nil {
			return fmt.Errorf("uploading export: %w", err)
		}

		log.WithField("bucket", cfg.Export.S3.Bucket).
			WithField("key", key).
			Info("Export uploaded")

		return nil
	}

	return writeExport(doc, format)
}

func writeExport(doc *export.Document, format export.Format) error {
	var w io.Writer = os.Stdout

	if exportOutput != "" && exportOutput != "-" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer func() { _ = f.Close() }()

		w = f
	}

	if err := export.Encode(w, doc, format); err != nil {
		return err
	}

	if w != os.Stdout {
		log.WithField("file", exportOutput).Info("Export written")
	}

	return nil
}
