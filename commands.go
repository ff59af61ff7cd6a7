package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zuchzub/trackdl/pkg/core/cache"
	"github.com/zuchzub/trackdl/pkg/core/dl"
)

var (
	errCouldNotFetch = errors.New("could not fetch this track")
	errNoAttemptLog  = errors.New("the attempt log is disabled; set MONGO_URI")
)

// newRootCmd builds the trackdl command tree. The --log-level flag overrides
// LOG_LEVEL for every subcommand.
func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "trackdl",
		Short:         "Resolve music and video requests into local media files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (defaults to LOG_LEVEL)")

	root.AddCommand(
		newClassifyCmd(),
		newSearchCmd(&logLevel),
		newResolveCmd(&logLevel),
		newDownloadCmd(&logLevel),
		newAttemptsCmd(&logLevel),
	)
	return root
}

// newClassifyCmd prints the kind of the input and the video or playlist id it names.
// It needs no configuration.
func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <input>",
		Short: "Tell a media link apart from a search query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := dl.Classify(strings.Join(args, " "))
			id := c.VideoID
			if c.IsPlaylist() {
				id = c.PlaylistID
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", c.Kind, id)
			return err
		},
	}
}

// newSearchCmd resolves a query or link into tracks without downloading anything.
func newSearchCmd(logLevel *string) *cobra.Command {
	var video bool
	var user string

	cmd := &cobra.Command{
		Use:   "search <query or link>",
		Short: "Resolve a query or link into track metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(*logLevel, false)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, a.close())
			}()

			tracks, err := a.service.Tracks(cmd.Context(), strings.Join(args, " "), dl.Request{User: user, Video: video})
			if err != nil {
				return err
			}
			return printJSON(cmd, tracks)
		},
	}
	cmd.Flags().BoolVar(&video, "video", false, "request video delivery")
	cmd.Flags().StringVar(&user, "user", "", "requesting user attached to tracks")
	return cmd
}

// newResolveCmd resolves a request and fetches its media file. It returns
// errCouldNotFetch wrapping the cause when the file cannot be produced.
func newResolveCmd(logLevel *string) *cobra.Command {
	var video bool

	cmd := &cobra.Command{
		Use:   "resolve <query or link>",
		Short: "Resolve a request and fetch the media file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(*logLevel, true)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, a.close())
			}()

			if err := a.conf.RequireAPI(); err != nil {
				return err
			}

			track, filePath, err := a.service.Play(cmd.Context(), strings.Join(args, " "), dl.Request{Video: video})
			if err != nil {
				return fmt.Errorf("%w: %w", errCouldNotFetch, err)
			}
			return printJSON(cmd, struct {
				Track    cache.Track `json:"track"`
				FilePath string      `json:"file_path"`
			}{track, filePath})
		},
	}
	cmd.Flags().BoolVar(&video, "video", false, "request video delivery")
	return cmd
}

// newDownloadCmd streams one URL to disk and prints the DownloadResult.
func newDownloadCmd(logLevel *string) *cobra.Command {
	var out string
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "download <url>",
		Short: "Stream a URL into the downloads directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(*logLevel, false)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, a.close())
			}()

			result := a.client.DownloadFile(cmd.Context(), args[0], out, overwrite)
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if !result.Success {
				return errors.New(result.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "destination path (derived from the response when empty)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")
	return cmd
}

// newAttemptsCmd lists stored attempts. It returns errNoAttemptLog when MONGO_URI is unset.
func newAttemptsCmd(logLevel *string) *cobra.Command {
	var kind string
	var limit int64

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show the latest network attempts stored in MongoDB",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(*logLevel, false)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, a.close())
			}()

			if a.store == nil {
				return errNoAttemptLog
			}
			attempts, err := a.store.Recent(cmd.Context(), kind, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, attempts)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "json, text or download (all when empty)")
	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "number of attempts to show")
	return cmd
}

// printJSON writes v to the command output as indented JSON.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
