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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/docstore/internal/dbopen"
	"github.com/cardinalhq/docstore/store/pgstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply document store schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		connStr, err := dbopen.URLFromEnv(pgstore.EnvPrefix)
		if err != nil {
			return err
		}
		pool, err := pgstore.NewConnectionPool(ctx, connStr)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer pool.Close()

		return pgstore.RunMigrationsUp(ctx, pool)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
