// Command catalog inspects and serves catalogs persisted as bigfiles
package main

import (
	"os"
	"strings"

	"github.com/go-sif/catalog/datastore"
	"github.com/go-sif/catalog/internal/util"
	"github.com/go-sif/catalog/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	logLevel string
}

func (f *globalFlags) logger() zerolog.Logger {
	return logging.NewLoggerTo(os.Stderr, logging.ParseLevel(f.logLevel))
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:          "catalog",
		Short:        "Inspect and serve persisted particle catalogs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", util.GetEnvOrDefault("CATALOG_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.AddCommand(newInspectCommand(flags), newServeCommand(flags))
	return root
}

// openStore opens a bigfile location: an s3://bucket/prefix URL, or a local directory
func openStore(location string, logger *zerolog.Logger) (datastore.DataStore, error) {
	if rest := strings.TrimPrefix(location, "s3://"); rest != location {
		bucket, prefix, _ := strings.Cut(rest, "/")
		return datastore.NewS3DataStore(datastore.S3Config{Bucket: bucket, Prefix: prefix, Logger: logger})
	}
	return datastore.NewDiskDataStore(location)
}
