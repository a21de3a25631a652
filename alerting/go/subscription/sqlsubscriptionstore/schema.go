package sqlsubscriptionstore

// Schema is the SQL schema for the subscription store.
const Schema = `
CREATE TABLE IF NOT EXISTS SnubaQueries (
	id INT PRIMARY KEY DEFAULT unique_rowid(),
	type TEXT NOT NULL,
	dataset TEXT NOT NULL,
	query TEXT NOT NULL,
	aggregate TEXT NOT NULL,
	time_window_seconds INT NOT NULL,
	resolution_seconds INT NOT NULL,
	environment TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS SnubaQueryEventTypes (
	snuba_query_id INT NOT NULL,
	event_type TEXT NOT NULL,
	PRIMARY KEY (snuba_query_id, event_type)
);

CREATE TABLE IF NOT EXISTS QuerySubscriptions (
	id INT PRIMARY KEY DEFAULT unique_rowid(),
	project_id INT NOT NULL,
	org_id INT NOT NULL,
	type TEXT NOT NULL,
	snuba_query_id INT NOT NULL,
	status INT NOT NULL,
	subscription_id TEXT,
	version INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	INDEX by_snuba_query (snuba_query_id)
);
`
