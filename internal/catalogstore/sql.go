package catalogstore

const ddl = `
CREATE TABLE IF NOT EXISTS catalog_versions (
	item_id       TEXT NOT NULL,
	version       TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	manifest_json TEXT NOT NULL,
	schema_json   TEXT NOT NULL,
	imported_at   TEXT NOT NULL,
	PRIMARY KEY (item_id, version)
);

CREATE TABLE IF NOT EXISTS catalog_schemas (
	item_id     TEXT NOT NULL,
	version     TEXT NOT NULL,
	ref         TEXT NOT NULL,
	schema_json TEXT NOT NULL,
	PRIMARY KEY (item_id, version, ref),
	FOREIGN KEY (item_id, version) REFERENCES catalog_versions(item_id, version) ON DELETE CASCADE
);
`

const (
	upsertVersionSQL = `
INSERT INTO catalog_versions (item_id, version, name, manifest_json, schema_json, imported_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (item_id, version) DO UPDATE SET
	name = excluded.name,
	manifest_json = excluded.manifest_json,
	schema_json = excluded.schema_json,
	imported_at = excluded.imported_at`

	deleteSchemasSQL = `DELETE FROM catalog_schemas WHERE item_id = ? AND version = ?`

	insertSchemaSQL = `INSERT INTO catalog_schemas (item_id, version, ref, schema_json) VALUES (?, ?, ?, ?)`

	selectPrimarySQL = `SELECT schema_json FROM catalog_versions WHERE item_id = ? AND version = ?`

	selectLatestSQL = `SELECT version FROM catalog_versions WHERE item_id = ? ORDER BY version DESC LIMIT 1`

	selectVersionsSQL = `SELECT version FROM catalog_versions WHERE item_id = ? ORDER BY version`

	selectItemsSQL = `
SELECT item_id, name, MAX(version), COUNT(*)
FROM catalog_versions
GROUP BY item_id
ORDER BY item_id`

	selectSchemaSQL = `SELECT schema_json FROM catalog_schemas WHERE item_id = ? AND version = ? AND ref = ?`

	deleteVersionSQL = `DELETE FROM catalog_versions WHERE item_id = ? AND version = ?`
)
