// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// setupLogging configures the process-wide slog default: text to stdout,
// plus a JSON stream when DOCSTORE_LOG_FILE is set. DEBUG or
// DOCSTORE_DEBUG lowers the level.
func setupLogging() {
	var opts *slog.HandlerOptions
	if os.Getenv("DEBUG") != "" || os.Getenv("DOCSTORE_DEBUG") != "" {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stdout, opts),
	}
	if path := os.Getenv("DOCSTORE_LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Warn("failed to open log file, logging to stdout only",
				slog.String("path", path), slog.Any("error", err))
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, opts))
		}
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)).With(
		slog.String("service", "docstore"),
	))
}
