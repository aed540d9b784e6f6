// Package all registers every storage backend with the factory.
// Binaries blank-import it so config alone selects the backend.
package all

import (
	_ "appsync/internal/storage/mssql"
	_ "appsync/internal/storage/postgres"
	_ "appsync/internal/storage/sqlite"
)
