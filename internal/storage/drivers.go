package storage

import (
	// Registered database/sql drivers for NewSQLBackend's driverName parameter.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)
