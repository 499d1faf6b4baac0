package cmd

import (
	"context"
	"fmt"
	"os"

	"emperror.dev/emperror"
	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:     "purge [location]",
	Short:   "permanently removes an object and all of its versions",
	Example: "ocflkit purge ./archive -i urn:example:1 --yes",
	Args:    cobra.ExactArgs(1),
	Run:     doPurge,
}

func initPurge() {
	purgeCmd.Flags().StringP("object-id", "i", "", "object id to purge")
	purgeCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	emperror.Panic(purgeCmd.MarkFlagRequired("object-id"))
}

func doPurge(cmd *cobra.Command, args []string) {
	logger, closer := newLogger()
	defer closer()
	ctx := context.Background()

	id := getFlagString(cmd, "object-id")
	if !getFlagBool(cmd, "yes") {
		fmt.Printf("purge object '%s' and all of its versions? [y/N] ", id)
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("aborted")
			return
		}
	}

	store, err := openStore(ctx, args[0], logger)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot open storage root at '%s'", args[0])
		os.Exit(1)
	}
	if err := store.PurgeObject(ctx, id); err != nil {
		logger.Error().Err(err).Msgf("cannot purge '%s'", id)
		os.Exit(1)
	}
	fmt.Printf("purged '%s'\n", id)
}
