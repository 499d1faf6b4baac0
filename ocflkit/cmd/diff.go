package cmd

import (
	"context"
	"fmt"
	"os"

	"emperror.dev/emperror"
	"emperror.dev/errors"
	"github.com/ocfl-archive/ocflkit/pkg/ocfl"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:     "diff [location] [version] [version]",
	Short:   "shows the logical changes between two versions of an object",
	Example: "ocflkit diff ./archive v1 v3 -i urn:example:1 --renames",
	Args:    cobra.ExactArgs(3),
	Run:     doDiff,
}

func initDiff() {
	diffCmd.Flags().StringP("object-id", "i", "", "object id to compare")
	diffCmd.Flags().Bool("renames", false, "show advisory rename hints")
	emperror.Panic(diffCmd.MarkFlagRequired("object-id"))
}

func parseVersionArg(arg string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(arg, "v%d", &n); err != nil || n < 1 {
		return 0, errors.Errorf("invalid version '%s'", arg)
	}
	return n, nil
}

func doDiff(cmd *cobra.Command, args []string) {
	logger, closer := newLogger()
	defer closer()
	ctx := context.Background()

	a, err := parseVersionArg(args[1])
	if err != nil {
		logger.Error().Err(err).Msg("")
		os.Exit(1)
	}
	b, err := parseVersionArg(args[2])
	if err != nil {
		logger.Error().Err(err).Msg("")
		os.Exit(1)
	}

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
	changes, err := object.Diff(a, b)
	if err != nil {
		logger.Error().Err(err).Msg("cannot diff versions")
		os.Exit(1)
	}
	for _, change := range changes {
		switch change.Kind {
		case ocfl.ChangeAdded:
			fmt.Printf("A %s\n", change.Path)
		case ocfl.ChangeRemoved:
			fmt.Printf("D %s\n", change.Path)
		case ocfl.ChangeModified:
			fmt.Printf("M %s\n", change.Path)
		}
	}
	if getFlagBool(cmd, "renames") {
		hints, err := object.RenameHints(a, b)
		if err != nil {
			logger.Error().Err(err).Msg("cannot compute rename hints")
			os.Exit(1)
		}
		for _, hint := range hints {
			fmt.Printf("R %v -> %v [%s]\n", hint.From, hint.To, shortHex(hint.Digest))
		}
	}
}
