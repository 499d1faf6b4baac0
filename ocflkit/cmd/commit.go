package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"emperror.dev/emperror"

	"github.com/ocfl-archive/ocflkit/pkg/checksum"
	"github.com/ocfl-archive/ocflkit/pkg/ocfl"
	"github.com/spf13/cobra"
)

var commitCmd = &cobra.Command{
	Use:     "commit [location] [source directory]",
	Short:   "commits a directory tree as the next version of an object",
	Long: `The source directory is the complete logical state of the new
version: files present in the previous version but absent from the source
directory are removed from the new state. Unchanged content is detected by
digest and not stored again.`,
	Example: "ocflkit commit ./archive ./data -i urn:example:1 -m 'monthly ingest'",
	Args:    cobra.ExactArgs(2),
	Run:     doCommit,
}

func initCommit() {
	commitCmd.Flags().StringP("object-id", "i", "", "object id to commit to")
	commitCmd.Flags().StringP("message", "m", "", "version message")
	commitCmd.Flags().StringP("user-name", "u", "", "committing user name")
	commitCmd.Flags().String("user-address", "", "committing user address")
	commitCmd.Flags().String("digest", "", "digest algorithm for a new object")
	commitCmd.Flags().StringSlice("fixity", nil, "additional fixity algorithms")
	emperror.Panic(commitCmd.MarkFlagRequired("object-id"))
}

func fileSource(path string) ocfl.FileSource {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

func doCommit(cmd *cobra.Command, args []string) {
	logger, closer := newLogger()
	defer closer()
	ctx := context.Background()

	id := getFlagString(cmd, "object-id")
	message := getFlagString(cmd, "message")
	if message == "" {
		message = conf.Commit.Message
	}
	userName := getFlagString(cmd, "user-name")
	userAddress := getFlagString(cmd, "user-address")
	if userName == "" {
		userName = conf.Commit.User.Name
		userAddress = conf.Commit.User.Address
	}
	alg := checksum.DigestAlgorithm(getFlagString(cmd, "digest"))
	if alg == "" {
		alg = conf.Commit.Digest
	}
	fixity := getFlagStringSlice(cmd, "fixity")
	if fixity == nil {
		fixity = conf.Commit.Fixity
	}
	fixityAlgs := make([]checksum.DigestAlgorithm, 0, len(fixity))
	for _, f := range fixity {
		fixityAlgs = append(fixityAlgs, checksum.DigestAlgorithm(f))
	}

	store, err := openStore(ctx, args[0], logger)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot open storage root at '%s'", args[0])
		os.Exit(1)
	}

	opts := []ocfl.CommitOption{ocfl.WithMessage(message), ocfl.WithFixity(fixityAlgs...)}
	if userName != "" {
		opts = append(opts, ocfl.WithUser(userName, userAddress))
	}
	commit, err := store.NewCommit(ctx, id, alg, opts...)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot start commit for '%s'", id)
		os.Exit(1)
	}

	source := filepath.Clean(args[1])
	count := 0
	err = filepath.WalkDir(source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}
		count++
		return commit.AddFile(filepath.ToSlash(rel), fileSource(p))
	})
	if err != nil {
		logger.Error().Err(err).Msgf("cannot stage '%s'", source)
		if abortErr := commit.Abort(ctx); abortErr != nil {
			logger.Error().Err(abortErr).Msg("cannot abort commit")
		}
		os.Exit(1)
	}

	n, err := commit.Commit(ctx)
	if err != nil {
		logger.Error().Err(err).Msgf("cannot commit '%s'", id)
		os.Exit(1)
	}
	fmt.Printf("committed v%d of '%s' (%d files staged)\n", n, id, count)
}
