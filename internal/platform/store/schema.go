package store

import "fmt"

// Content-store layout: append-only identity dictionaries
// (chain/subchain/store/chain_item), the optional cross-chain item linkage
// (item/item_link, populated externally), and the price fact table.
// File dates and price update dates are stored as canonical
// "2006-01-02 15:04" text so both backends compare and order them the same
// way; prices are stored as exact decimal text.

const (
	idColSQLite   = "INTEGER PRIMARY KEY"
	idColPostgres = "BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
)

func schemaFor(driver string) []string {
	idCol := idColSQLite
	if driver == DriverPostgres {
		idCol = idColPostgres
	}
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chain (
			id %s,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			chain_id BIGINT NOT NULL UNIQUE,
			name TEXT
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS subchain (
			id %s,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			chain BIGINT NOT NULL REFERENCES chain(id),
			subchain_id BIGINT NOT NULL,
			name TEXT,
			UNIQUE (chain, subchain_id)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS store (
			id %s,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			chain BIGINT NOT NULL REFERENCES chain(id),
			store_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			city TEXT,
			UNIQUE (chain, store_id)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS store_link (
			id %s,
			subchain BIGINT NOT NULL REFERENCES subchain(id),
			store BIGINT NOT NULL REFERENCES store(id),
			UNIQUE (subchain, store)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chain_item (
			id %s,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			chain BIGINT NOT NULL REFERENCES chain(id),
			code TEXT NOT NULL,
			name TEXT,
			manufacturer TEXT,
			units TEXT,
			UNIQUE (chain, code)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS item (
			id %s,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			name TEXT NOT NULL
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS item_link (
			id %s,
			item BIGINT NOT NULL REFERENCES item(id),
			chain_item BIGINT NOT NULL REFERENCES chain_item(id),
			UNIQUE (item, chain_item)
		)`, idCol),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS price (
			id %s,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			filedate TEXT NOT NULL,
			store BIGINT NOT NULL REFERENCES store(id),
			item BIGINT NOT NULL REFERENCES chain_item(id),
			update_date TEXT,
			price TEXT,
			UNIQUE (filedate, store, item)
		)`, idCol),
		`CREATE INDEX IF NOT EXISTS ix_price_item ON price (item)`,
		`CREATE INDEX IF NOT EXISTS ix_price_store_item ON price (store, item)`,
	}
}
