package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

var lsCmd = &cobra.Command{
	Use:     "ls [location]",
	Short:   "lists objects or the files of one object",
	Example: "ocflkit ls ./archive\nocflkit ls ./archive -i urn:example:1 -l",
	Args:    cobra.ExactArgs(1),
	Run:     doLs,
}

func initLs() {
	lsCmd.Flags().StringP("object-id", "i", "", "list the files of this object instead of all objects")
	lsCmd.Flags().IntP("version", "v", 0, "object version to list (default head)")
	lsCmd.Flags().BoolP("long", "l", false, "show digests")
	lsCmd.Flags().BoolP("physical", "p", false, "show stored content paths")
}

func doLs(cmd *cobra.Command, args []string) {
	logger, closer := newLogger()
	defer closer()
	ctx := context.Background()

	store, err := openStore(ctx, args[0], logger)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot open storage root at '%s'", args[0])
		os.Exit(1)
	}

	id := getFlagString(cmd, "object-id")
	if id == "" {
		ids, err := store.ListObjects(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("cannot list objects")
			os.Exit(1)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return
	}

	object, err := store.OpenObject(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot open object '%s'", id)
		os.Exit(1)
	}
	state, err := object.VersionState(getFlagInt(cmd, "version"))
	if err != nil {
		logger.Error().Err(err).Msg("cannot read version state")
		os.Exit(1)
	}
	long := getFlagBool(cmd, "long")
	physical := getFlagBool(cmd, "physical")
	paths := make([]string, 0, len(state))
	for p := range state {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		line := p
		if long {
			line = fmt.Sprintf("%s  %s", shortHex(state[p]), p)
		}
		if physical {
			stored, err := object.Inventory().ResolveDigest(state[p])
			if err == nil {
				line = fmt.Sprintf("%s\t%s", line, stored)
			}
		}
		fmt.Println(line)
	}
}

func shortHex(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

