// Package all links every storage backend. Commands blank-import it so the
// configured kind can be chosen at run time.
package all

import (
	_ "fmpxml/internal/storage/mssql"
	_ "fmpxml/internal/storage/postgres"
	_ "fmpxml/internal/storage/sqlite"
)
