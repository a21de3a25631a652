package sqlindexstore

// Schema is the SQL schema for the string index.
const Schema = `
CREATE TABLE IF NOT EXISTS StringIndex (
	id INT PRIMARY KEY DEFAULT unique_rowid(),
	use_case TEXT NOT NULL,
	org_id INT NOT NULL,
	string TEXT NOT NULL,
	UNIQUE INDEX by_scoped_string (use_case, org_id, string)
);
`
