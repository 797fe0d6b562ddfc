// Package all registers every sink backend with the storage factory.
package all

import (
	_ "github.com/Actyx/events-to-db/internal/storage/memory"
	_ "github.com/Actyx/events-to-db/internal/storage/mssql"
	_ "github.com/Actyx/events-to-db/internal/storage/mysql"
	_ "github.com/Actyx/events-to-db/internal/storage/postgres"
	_ "github.com/Actyx/events-to-db/internal/storage/sqlite"
)
