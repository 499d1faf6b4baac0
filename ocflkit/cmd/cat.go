package cmd

import (
	"context"
	"io"
	"os"

	"emperror.dev/emperror"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:     "cat [location] [logical path]",
	Short:   "writes the content of one file to stdout",
	Example: "ocflkit cat ./archive data/report.pdf -i urn:example:1 -v 2 > report.pdf",
	Args:    cobra.ExactArgs(2),
	Run:     doCat,
}

func initCat() {
	catCmd.Flags().StringP("object-id", "i", "", "object id to read from")
	catCmd.Flags().IntP("version", "v", 0, "object version to read (default head)")
	emperror.Panic(catCmd.MarkFlagRequired("object-id"))
}

func doCat(cmd *cobra.Command, args []string) {
	logger, closer := newLogger()
	defer closer()
	ctx := context.Background()

	store, err := openStore(ctx, args[0], logger)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot open storage root at '%s'", args[0])
		os.Exit(1)
	}
	object, err := store.OpenObject(ctx, getFlagString(cmd, "object-id"))
	if err != nil {
		logger.Error().Err(err).Msg("cannot open object")
		os.Exit(1)
	}
	rc, err := object.Open(ctx, getFlagInt(cmd, "version"), args[1])
	if err != nil {
		logger.Error().Err(err).Msgf("cannot open '%s'", args[1])
		os.Exit(1)
	}
	defer rc.Close()
	if _, err := io.Copy(os.Stdout, rc); err != nil {
		logger.Error().Err(err).Msgf("cannot read '%s'", args[1])
		os.Exit(1)
	}
}
