package pg

const schemaSQL = `
CREATE TABLE IF NOT EXISTS owners (
	id           uuid PRIMARY KEY,
	external_ref text NOT NULL UNIQUE,
	display_name text NOT NULL DEFAULT '',
	email        text NOT NULL DEFAULT '',
	created_at   timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
	id                      uuid PRIMARY KEY,
	owner_id                uuid NOT NULL REFERENCES owners (id),
	type                    text NOT NULL CHECK (type IN ('income', 'expense')),
	amount                  numeric(18, 2) NOT NULL CHECK (amount >= 0),
	currency                char(3) NOT NULL,
	category                text NOT NULL,
	description             text NOT NULL,
	recipient               text NOT NULL DEFAULT '',
	payment_method          text NOT NULL DEFAULT '',
	masked_account_number   text NOT NULL DEFAULT '',
	external_transaction_id text NOT NULL DEFAULT '',
	status                  text NOT NULL,
	occurred_at             timestamptz NOT NULL,
	tags                    text[] NOT NULL DEFAULT '{}',
	provenance              text NOT NULL CHECK (provenance IN ('imported', 'manual')),
	source_file             text NOT NULL DEFAULT '',
	imported_at             timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS transactions_owner_date_idx ON transactions (owner_id, occurred_at);
`
