package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	charmlog "charm.land/log/v2"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// newLogger builds the CLI logger for the given format.
//
// json writes one JSON object per line; text writes human-readable lines.
// auto picks text when w is a terminal and json otherwise.
func newLogger(format string, w io.Writer) (*slog.Logger, error) {
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})), nil
	case "text":
		return slog.New(charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.InfoLevel,
		})), nil
	case "auto", "":
		if isTerminal(w) {
			return newLogger("text", w)
		}
		return newLogger("json", w)
	default:
		return nil, fmt.Errorf("unknown log format %q (want auto, json or text)", format)
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// commandLogger builds the logger selected by --log-format, writing to the
// command's stderr.
func commandLogger(cmd *cobra.Command) (*slog.Logger, error) {
	format, _ := cmd.Flags().GetString("log-format")
	return newLogger(format, cmd.ErrOrStderr())
}
