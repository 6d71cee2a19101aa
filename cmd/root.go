// Package cmd implements the s3merge command line.
package cmd

import (
	"context"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "S3MERGE"

// NewRootCommand returns the s3merge command tree. Settings come from
// flags, then S3MERGE_* environment variables, then the config file.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "s3merge",
		Short:         "Merge the part objects of a batch job into one S3 object",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(v); err != nil {
				return err
			}
			return setupLogging(cmd.ErrOrStderr(), v.GetString("log-level"), v.GetString("log-format"))
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	flags.String("s3-url", "", "S3 endpoint URL, empty for AWS")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-profile", "", "Shared AWS config profile")
	flags.Bool("s3-path-style", false, "Use path-style addressing")
	flags.String("s3-options", "", "S3 connection string, e.g. url=http://minio:9000,accesskey=minio,secretkey=minio111")

	bind(v, flags.Lookup("config"), "config")
	bind(v, flags.Lookup("log-level"), "log-level")
	bind(v, flags.Lookup("log-format"), "log-format")
	bind(v, flags.Lookup("s3-url"), "s3.url")
	bind(v, flags.Lookup("s3-region"), "s3.region")
	bind(v, flags.Lookup("s3-profile"), "s3.profile")
	bind(v, flags.Lookup("s3-path-style"), "s3.pathstyle")
	bind(v, flags.Lookup("s3-options"), "s3-options")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	root.AddCommand(newMergeCommand(v))

	return root
}

func loadConfig(v *viper.Viper) error {
	path := v.GetString("config")
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	log.Debugf("using config file %s", v.ConfigFileUsed())
	return nil
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
