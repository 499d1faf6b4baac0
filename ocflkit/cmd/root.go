package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/config"
	"github.com/ocfl-archive/ocflkit/pkg/backend"
	"github.com/ocfl-archive/ocflkit/pkg/backend/local"
	"github.com/ocfl-archive/ocflkit/pkg/backend/s3"
	"github.com/ocfl-archive/ocflkit/pkg/ocfl"
	"github.com/ocfl-archive/ocflkit/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// all persistent flags go here
var persistentFlagConfigFile string
var persistentFlagLogfile string
var persistentFlagLoglevel string

var persistentFlagS3Endpoint string
var persistentFlagS3AccessKeyID string
var persistentFlagS3SecretAccessKey string
var persistentFlagS3Region string

var conf *config.Config

var rootCmd = &cobra.Command{
	Use:   "ocflkit",
	Short: "ocflkit is a versioned content addressed object store",
	Long: fmt.Sprintf(`A write-once object store with content deduplication,
per-version fixity and full validation on local filesystems and S3.
Version %s (%s)`, version.Version, version.ShortCommit()),
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func initConfig() {
	var data = string(config.DefaultConfig)
	if persistentFlagConfigFile != "" {
		raw, err := os.ReadFile(persistentFlagConfigFile)
		if err != nil {
			cobra.CheckErr(errors.Wrapf(err, "cannot read config file %s", persistentFlagConfigFile))
		}
		data = string(raw)
	}
	var err error
	conf, err = config.LoadConfig(data)
	if err != nil {
		cobra.CheckErr(errors.Wrapf(err, "cannot load config file %s", persistentFlagConfigFile))
	}

	// command line wins over the config file
	if persistentFlagLogfile != "" {
		conf.Log.File = persistentFlagLogfile
	}
	if persistentFlagLoglevel != "" {
		conf.Log.Level = persistentFlagLoglevel
	}
	if persistentFlagS3Endpoint != "" {
		conf.S3.Endpoint = config.EnvString(persistentFlagS3Endpoint)
	}
	if persistentFlagS3Region != "" {
		conf.S3.Region = config.EnvString(persistentFlagS3Region)
	}
	if persistentFlagS3AccessKeyID != "" {
		conf.S3.AccessKeyID = config.EnvString(persistentFlagS3AccessKeyID)
	}
	if persistentFlagS3SecretAccessKey != "" {
		conf.S3.SecretAccessKey = config.EnvString(persistentFlagS3SecretAccessKey)
	}
}

func newLogger() (zerolog.Logger, func()) {
	level, err := zerolog.ParseLevel(strings.ToLower(conf.Log.Level))
	if err != nil {
		level = zerolog.ErrorLevel
	}
	var out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	closer := func() {}
	if conf.Log.File != "" {
		fp, err := os.OpenFile(conf.Log.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			out.Out = fp
			closer = func() { _ = fp.Close() }
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closer
}

func retryPolicy() backend.RetryPolicy {
	return backend.RetryPolicy{
		MaxRetries:      conf.Retry.MaxRetries,
		InitialInterval: conf.Retry.InitialInterval.Duration,
		MaxInterval:     conf.Retry.MaxInterval.Duration,
		MaxElapsedTime:  conf.Retry.MaxElapsedTime.Duration,
	}
}

// openBackend maps a location to a backend: "s3://bucket/prefix" or a
// local directory.
func openBackend(ctx context.Context, location string, logger zerolog.Logger) (backend.Backend, error) {
	if after, ok := strings.CutPrefix(location, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(after, "/")
		if bucket == "" {
			return nil, errors.Errorf("invalid s3 location '%s'", location)
		}
		return s3.NewBackend(ctx, s3.Config{
			Endpoint:        string(conf.S3.Endpoint),
			Region:          string(conf.S3.Region),
			Bucket:          bucket,
			Prefix:          prefix,
			AccessKeyID:     string(conf.S3.AccessKeyID),
			SecretAccessKey: string(conf.S3.SecretAccessKey),
			UseSSL:          conf.S3.UseSSL,
		}, retryPolicy(), logger)
	}
	return local.NewBackend(location, logger)
}

func openStore(ctx context.Context, location string, logger zerolog.Logger) (*ocfl.StorageRoot, error) {
	fsys, err := openBackend(ctx, location, logger)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	store, err := ocfl.LoadStorageRoot(ctx, fsys, logger)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return store, nil
}

func getFlagString(cmd *cobra.Command, flag string) string {
	str, err := cmd.Flags().GetString(flag)
	if err != nil {
		_ = cmd.Help()
		cobra.CheckErr(errors.Errorf("cannot get flag %s: %v", flag, err))
	}
	return str
}

func getFlagBool(cmd *cobra.Command, flag string) bool {
	b, err := cmd.Flags().GetBool(flag)
	if err != nil {
		_ = cmd.Help()
		cobra.CheckErr(errors.Errorf("cannot get flag %s: %v", flag, err))
	}
	return b
}

func getFlagInt(cmd *cobra.Command, flag string) int {
	i, err := cmd.Flags().GetInt(flag)
	if err != nil {
		_ = cmd.Help()
		cobra.CheckErr(errors.Errorf("cannot get flag %s: %v", flag, err))
	}
	return i
}

func getFlagStringSlice(cmd *cobra.Command, flag string) []string {
	strs, err := cmd.Flags().GetStringSlice(flag)
	if err != nil {
		_ = cmd.Help()
		cobra.CheckErr(errors.Errorf("cannot get flag %s: %v", flag, err))
	}
	return strs
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&persistentFlagConfigFile, "config", "", "config file (default is built in)")
	rootCmd.PersistentFlags().StringVar(&persistentFlagLogfile, "log-file", "", "log output file (default is console)")
	rootCmd.PersistentFlags().StringVar(&persistentFlagLoglevel, "log-level", "", "log level (error|warn|info|debug)")
	rootCmd.PersistentFlags().StringVar(&persistentFlagS3Endpoint, "s3-endpoint", "", "endpoint for S3 buckets")
	rootCmd.PersistentFlags().StringVar(&persistentFlagS3AccessKeyID, "s3-access-key-id", "", "access key id for S3 buckets")
	rootCmd.PersistentFlags().StringVar(&persistentFlagS3SecretAccessKey, "s3-secret-access-key", "", "secret access key for S3 buckets")
	rootCmd.PersistentFlags().StringVar(&persistentFlagS3Region, "s3-region", "", "region for S3 access")

	initInit()
	initLs()
	initCommit()
	initCat()
	initDiff()
	initValidate()
	initStat()
	initPurge()

	rootCmd.AddCommand(initCmd, lsCmd, commitCmd, catCmd, diffCmd, validateCmd, statCmd, purgeCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
