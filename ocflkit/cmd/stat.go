package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"emperror.dev/emperror"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slices"
)

var statCmd = &cobra.Command{
	Use:     "stat [location]",
	Short:   "shows the version history and storage footprint of an object",
	Example: "ocflkit stat ./archive -i urn:example:1",
	Args:    cobra.ExactArgs(1),
	Run:     doStat,
}

func initStat() {
	statCmd.Flags().StringP("object-id", "i", "", "object id to inspect")
	emperror.Panic(statCmd.MarkFlagRequired("object-id"))
}

func doStat(cmd *cobra.Command, args []string) {
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

	inv := object.Inventory()
	fmt.Printf("id:         %s\n", inv.Id)
	fmt.Printf("digest:     %s\n", inv.DigestAlgorithm)
	fmt.Printf("head:       %s\n", inv.Head)
	fmt.Printf("manifest:   %d stored files\n", len(inv.Manifest))

	// stored footprint is the deduplicated content size
	var stored uint64
	for digest := range inv.Manifest {
		rc, err := object.OpenDigest(ctx, digest)
		if err != nil {
			logger.Warn().Err(err).Msg("cannot size stored content")
			continue
		}
		size, err := io.Copy(io.Discard, rc)
		_ = rc.Close()
		if err != nil {
			logger.Warn().Err(err).Msg("cannot size stored content")
			continue
		}
		stored += uint64(size)
	}
	fmt.Printf("stored:     %s\n", humanize.Bytes(stored))

	fmt.Println("versions:")
	for _, n := range inv.VersionNums() {
		version, err := inv.GetVersion(n)
		if err != nil {
			continue
		}
		user := ""
		if version.User != nil {
			user = version.User.Name
		}
		paths := []string{}
		for _, list := range version.State {
			paths = append(paths, list...)
		}
		slices.Sort(paths)
		fmt.Printf("  v%-4d %s  %-12s %4d files  %s\n",
			n, version.Created.Format(time.RFC3339), user, len(paths), version.Message)
	}
}
