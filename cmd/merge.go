package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ThierryZhou/go-s3merge/merger"
	"github.com/ThierryZhou/go-s3merge/s3"
)

func newMergeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge the objects under a prefix into a new object",
		Long: "Appends, line by line and in listing order, every object under --prefix whose\n" +
			"name starts with --initial-name and ends with the extension of --key, writes\n" +
			"the result to --key and deletes the inputs. Inputs with another extension are\n" +
			"deleted without being merged. The _SUCCESS markers of the prefix are deleted\n" +
			"unless --delete-success-files=false.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.StringP("bucket", "b", "", "Bucket holding the objects")
	flags.StringP("key", "k", "", "Key of the merged object")
	flags.StringP("initial-name", "n", "", "Merge objects whose name starts with this")
	flags.StringP("prefix", "p", "", "Prefix the objects live under, empty for the bucket root")
	flags.Bool("delete-success-files", true, "Delete _SUCCESS and ._SUCCESS.crc under the prefix")
	flags.Int("max-line-size", merger.DefaultMaxLineSize, "Longest line accepted in an input object")
	flags.String("metrics-file", "", "Write prometheus metrics to this file when done")

	flags.VisitAll(func(f *pflag.Flag) {
		bind(v, f, f.Name)
	})

	return cmd
}

func bind(v *viper.Viper, f *pflag.Flag, key string) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}

func runMerge(ctx context.Context, v *viper.Viper) (err error) {
	o := s3.OptionFromViper(v)
	o.Overlay(v.GetString("s3-options"))

	reg := prometheus.NewRegistry()
	m := merger.New(func(ctx context.Context) (merger.Store, error) {
		client, err := s3.NewS3Client(ctx, o)
		if err != nil {
			return nil, err
		}
		return client, nil
	}, merger.WithMetrics(merger.NewMetrics(reg)), merger.WithMaxLineSize(v.GetInt("max-line-size")))

	req := merger.NewRequest(v.GetString("bucket"), v.GetString("key"), v.GetString("initial-name"))
	req.Prefix = v.GetString("prefix")
	req.DeleteMarkers = v.GetBool("delete-success-files")

	if path := v.GetString("metrics-file"); path != "" {
		defer func() {
			if werr := prometheus.WriteToTextfile(path, reg); werr != nil {
				log.Warnf("write metrics to %s: %v", path, werr)
			}
		}()
	}

	res, err := m.Merge(ctx, req)
	if res != nil {
		logger := log.WithFields(log.Fields{
			"bucket":  res.Bucket,
			"key":     res.Key,
			"merged":  len(res.Merged),
			"skipped": len(res.Skipped),
			"deleted": len(res.Deleted),
		})
		if err != nil {
			logger.Warnf("merge failed after deleting %v", res.Deleted)
		} else {
			logger.Infof("wrote %d bytes", res.Bytes)
		}
	}
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", req.Bucket, req.Key, err)
	}
	return nil
}
