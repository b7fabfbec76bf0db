// Sdm is a schema and data migration tool for MySQL and MariaDB. It
// manages a database's evolution through an ordered chain of migration
// plans - declarative forward and backward changes - and records what has
// been applied in a history table inside the target database itself.
//
// Key features:
//   - Schema, versioned data, and repeatable data migration plans
//   - Bidirectional application: migrate and rollback
//   - Crash-safe two-phase execution with fix-based recovery
//   - Content-addressed storage of schema snapshots
//   - Random-walk test plan generation over the migration graph
//
// Usage:
//
//	# Initialize a new project against a database
//	sdm init --host 127.0.0.1 -P 3306 -u root -s mydb
//
//	# Apply everything, then roll back to the beginning
//	sdm migrate production
//	sdm rollback production -v 0000
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/beim/sdm/cmd/sdm/cmd"
	"github.com/urfave/cli/v3"
)

// Build-time variables set during release builds.
var (
	version string = "local"
	commit  string = "local"
)

func main() {
	cli.VersionPrinter = func(c *cli.Command) {
		fmt.Fprintln(c.Writer, "Version:", version)
		fmt.Fprintln(c.Writer, "Commit:", commit)
	}

	if err := cmd.Run(context.Background(), version, os.Args); err != nil {
		log.Fatal(err)
	}
}
