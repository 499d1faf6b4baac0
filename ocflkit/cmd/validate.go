package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ocfl-archive/ocflkit/pkg/ocfl"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:     "validate [location]",
	Aliases: []string{"check"},
	Short:   "validates a storage root or a single object",
	Example: "ocflkit validate ./archive\nocflkit validate ./archive -i urn:example:1 --no-digest",
	Args:    cobra.ExactArgs(1),
	Run:     doValidate,
}

func initValidate() {
	validateCmd.Flags().StringP("object-id", "i", "", "validate only this object")
	validateCmd.Flags().Bool("no-digest", false, "skip the content digest pass")
	validateCmd.Flags().Int("parallel", 0, "concurrent digest workers")
}

func doValidate(cmd *cobra.Command, args []string) {
	logger, closer := newLogger()
	defer closer()
	ctx := context.Background()

	store, err := openStore(ctx, args[0], logger)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot open storage root at '%s'", args[0])
		os.Exit(1)
	}

	opts := &ocfl.ValidationOptions{
		Parallel: conf.Validate.Parallel,
		NoDigest: conf.Validate.NoDigest,
	}
	if n := getFlagInt(cmd, "parallel"); n > 0 {
		opts.Parallel = n
	}
	if getFlagBool(cmd, "no-digest") {
		opts.NoDigest = true
	}

	var report *ocfl.Report
	if id := getFlagString(cmd, "object-id"); id != "" {
		report, err = store.ValidateObject(ctx, id, opts)
	} else {
		report, err = store.Validate(ctx, opts)
	}
	if err != nil {
		logger.Error().Err(err).Msg("validation aborted")
		os.Exit(1)
	}

	for _, issue := range report.Issues() {
		fmt.Println(issue.String())
	}
	fmt.Printf("%d errors, %d warnings\n", report.Errors(), report.Warnings())
	if !report.Valid() {
		os.Exit(1)
	}
}
