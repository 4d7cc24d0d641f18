package blocks

const createTableQuery = `
CREATE TABLE IF NOT EXISTS blocks (
	hash              BYTEA PRIMARY KEY,
	number            BIGINT NOT NULL UNIQUE,
	parent_hash       BYTEA NOT NULL,
	miner             BYTEA NOT NULL,
	timestamp         TIMESTAMPTZ NOT NULL,
	gas_limit         NUMERIC(78,0) NOT NULL,
	gas_used          NUMERIC(78,0) NOT NULL,
	base_fee_per_gas  NUMERIC(78,0),
	transactions_root BYTEA NOT NULL,
	state_root        BYTEA NOT NULL,
	receipts_root     BYTEA NOT NULL,
	difficulty        NUMERIC(78,0),
	nonce             BYTEA NOT NULL DEFAULT ''::bytea,
	extra_data        BYTEA,
	size              INTEGER NOT NULL DEFAULT 0,
	transaction_count INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertQuery = `
INSERT INTO blocks (
	hash, number, parent_hash, miner, timestamp,
	gas_limit, gas_used, base_fee_per_gas,
	transactions_root, state_root, receipts_root,
	difficulty, nonce, extra_data, size, transaction_count
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
)
ON CONFLICT (hash) DO NOTHING`

const existsQuery = `SELECT EXISTS(SELECT 1 FROM blocks WHERE number = $1)`

const getByNumberQuery = `
SELECT
	hash, number, parent_hash, miner, timestamp,
	gas_limit::text, gas_used::text, base_fee_per_gas::text,
	transactions_root, state_root, receipts_root,
	difficulty::text, nonce, extra_data, size, transaction_count
FROM blocks
WHERE number = $1`

const highestQuery = `SELECT MAX(number) FROM blocks`

const countQuery = `SELECT COUNT(*) FROM blocks`

const deleteFromQuery = `DELETE FROM blocks WHERE number >= $1`

const statsQuery = `
SELECT
	COUNT(*),
	COALESCE(MIN(number), 0),
	COALESCE(MAX(number), 0),
	COALESCE(SUM(transaction_count), 0),
	COALESCE(AVG(transaction_count), 0),
	COALESCE(SUM(gas_used), 0)::text,
	COALESCE(AVG(gas_used), 0)::numeric(78,0)::text
FROM blocks`
