package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/ocfl-archive/ocflkit/pkg/ocfl"
	"github.com/ocfl-archive/ocflkit/pkg/storagelayout"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init [location]",
	Short:   "initializes an empty storage root",
	Example: "ocflkit init ./archive\nocflkit init s3://bucket/archive",
	Args:    cobra.ExactArgs(1),
	Run:     doInit,
}

func initInit() {
	initCmd.Flags().String("layout", "", "storage layout extension name")
}

func doInit(cmd *cobra.Command, args []string) {
	logger, closer := newLogger()
	defer closer()
	ctx := context.Background()

	layoutName := getFlagString(cmd, "layout")
	if layoutName == "" {
		layoutName = conf.Init.Layout
	}
	var layout storagelayout.StorageLayout
	var err error
	if layoutName == storagelayout.HashedNTupleName {
		layout, err = storagelayout.NewDefaultStorageLayout()
	} else {
		layout, err = storagelayout.NewStorageLayout([]byte(fmt.Sprintf(`{"extensionName":%q}`, layoutName)))
	}
	if err != nil {
		logger.Error().Err(err).Msgf("cannot initialize layout '%s'", layoutName)
		os.Exit(1)
	}

	fsys, err := openBackend(ctx, args[0], logger)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot open '%s'", args[0])
		os.Exit(1)
	}
	if _, err := ocfl.InitStorageRoot(ctx, fsys, layout, logger); err != nil {
		logger.Error().Err(err).Msgf("cannot initialize storage root at '%s'", args[0])
		os.Exit(1)
	}
	fmt.Printf("initialized storage root at '%s' with layout %s\n", args[0], layout.Name())
}
