package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/synaptica-ai/dicom-catalog/pkg/bootstrap"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/config"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/kafka"
	"github.com/synaptica-ai/dicom-catalog/pkg/common/models"
	"github.com/synaptica-ai/dicom-catalog/pkg/ingestion"
)

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "dicom-import",
		Short:        "Bulk import and event tools for the DICOM catalog",
		SilenceUsage: true,
	}
	root.AddCommand(directoryCommand(), eventsCommand())
	return root
}

func directoryCommand() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "directory [path]",
		Short: "Import every .dcm file in a directory",
		Long:  "Runs each .dcm file under path through the import pipeline and prints one JSON result per file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			files, err := collectFiles(args[0], recursive, ingestion.NewValidator(".dcm"))
			if err != nil {
				return err
			}

			components, err := bootstrap.Build(ctx, config.Load())
			if err != nil {
				return err
			}
			defer components.Close()

			summary := importFiles(ctx, components.Importer, files, cmd.OutOrStdout())
			fmt.Fprintf(cmd.ErrOrStderr(), "imported=%d duplicate=%d failed=%d\n",
				summary.imported, summary.duplicate, summary.failed)
			if summary.failed > 0 {
				return fmt.Errorf("%d of %d files failed", summary.failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories")
	return cmd
}

func eventsCommand() *cobra.Command {
	var group string
	var dlq bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow import events and print them as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if len(cfg.KafkaBrokers) == 0 {
				return fmt.Errorf("KAFKA_BROKERS is not set")
			}
			topic := cfg.ImportEventsTopic
			if dlq {
				if cfg.ImportDLQTopic == "" {
					return fmt.Errorf("IMPORT_DLQ_TOPIC is not set")
				}
				topic = cfg.ImportDLQTopic
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			consumer := kafka.NewConsumer(cfg.KafkaBrokers, topic, group)
			defer consumer.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err := consumer.Consume(ctx, func(_ context.Context, event models.Event) error {
				return enc.Encode(event)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&group, "group", "g", "dicom-import-events", "Kafka consumer group")
	cmd.Flags().BoolVar(&dlq, "dlq", false, "Follow the dead-letter topic instead")
	return cmd
}

// collectFiles lists the files under root the validator accepts, in lexical
// order.
func collectFiles(root string, recursive bool, v *ingestion.Validator) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (!recursive || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if v.Accepts(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

type importSummary struct {
	imported  int
	duplicate int
	failed    int
}

type importer interface {
	Import(ctx context.Context, file io.ReadSeeker, fileName string) ingestion.Result
}

func importFiles(ctx context.Context, svc importer, files []string, out io.Writer) importSummary {
	var summary importSummary
	enc := json.NewEncoder(out)

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		res := importOne(ctx, svc, path)
		switch {
		case res.Success:
			summary.imported++
		case res.Message == ingestion.MessageAlreadyExists:
			summary.duplicate++
		default:
			summary.failed++
		}
		enc.Encode(res)
	}
	return summary
}

func importOne(ctx context.Context, svc importer, path string) ingestion.Result {
	f, err := os.Open(path)
	if err != nil {
		return ingestion.Result{Message: fmt.Sprintf("Error: %v", err), FileName: path}
	}
	defer f.Close()

	info, err := f.Stat()
	if err == nil && info.Size() == 0 {
		return ingestion.Result{Message: ingestion.MessageEmptyFile, FileName: path}
	}
	return svc.Import(ctx, f, path)
}
