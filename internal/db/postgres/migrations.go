package postgres

// Migration — одна версия схемы.
type Migration struct {
	Version int
	SQL     string
}

// Migrations — схема PostgreSQL по версиям.
var Migrations = []Migration{
	{1, migration001Ledger},
	{2, migration002RewardQueue},
	{3, migration003AdminAttempts},
}

var migration001Ledger = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    level_rank INTEGER NOT NULL DEFAULT 1,
    level_name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS transactions (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    amount BIGINT NOT NULL CHECK (amount > 0),
    kind TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    reference_key TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    balance_after BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT transactions_account_reference_key UNIQUE (account_id, reference_key)
);
CREATE INDEX IF NOT EXISTS idx_transactions_account_seq ON transactions(account_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_account_kind ON transactions(account_id, kind);
`

var migration002RewardQueue = `
CREATE TABLE IF NOT EXISTS reward_queue (
    id BIGSERIAL PRIMARY KEY,
    account_id TEXT NOT NULL,
    amount BIGINT NOT NULL,
    kind TEXT NOT NULL,
    category TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    reference_key TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT reward_queue_account_reference_key UNIQUE (account_id, reference_key)
);
CREATE INDEX IF NOT EXISTS idx_reward_queue_due ON reward_queue(status, next_attempt_at);
`

var migration003AdminAttempts = `
CREATE TABLE IF NOT EXISTS admin_login_attempts (
    id BIGSERIAL PRIMARY KEY,
    client_id TEXT NOT NULL,
    attempt_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    success BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_admin_attempts_client ON admin_login_attempts(client_id, attempt_time DESC);
`
