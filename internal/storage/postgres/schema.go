package postgres

// Schema contains the DDL applied by Migrate. Statements are idempotent so
// repeated runs are safe.
const schema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
    id                UUID PRIMARY KEY,
    client_id         TEXT NOT NULL UNIQUE,
    secret_ciphertext BYTEA,
    owner_id          TEXT NOT NULL,
    name              TEXT NOT NULL,
    description       TEXT NOT NULL DEFAULT '',
    logo_url          TEXT NOT NULL DEFAULT '',
    redirect_uris     TEXT[] NOT NULL,
    allowed_scopes    TEXT[] NOT NULL,
    public            BOOLEAN NOT NULL DEFAULT FALSE,
    active            BOOLEAN NOT NULL DEFAULT TRUE,
    verified          BOOLEAN NOT NULL DEFAULT FALSE,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_oauth_clients_owner ON oauth_clients (owner_id);

CREATE TABLE IF NOT EXISTS authorization_codes (
    id                    UUID PRIMARY KEY,
    code_hash             TEXT NOT NULL UNIQUE,
    client_id             TEXT NOT NULL,
    user_id               TEXT NOT NULL,
    redirect_uri          TEXT NOT NULL,
    scope                 TEXT[] NOT NULL,
    code_challenge        TEXT NOT NULL DEFAULT '',
    code_challenge_method TEXT NOT NULL DEFAULT '',
    state                 TEXT NOT NULL DEFAULT '',
    expires_at            TIMESTAMPTZ NOT NULL,
    used                  BOOLEAN NOT NULL DEFAULT FALSE,
    created_at            TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS access_tokens (
    id         UUID PRIMARY KEY,
    token_hash TEXT NOT NULL UNIQUE,
    client_id  TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    scope      TEXT[] NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    revoked    BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_access_tokens_client_user ON access_tokens (client_id, user_id);

CREATE TABLE IF NOT EXISTS refresh_tokens (
    id              UUID PRIMARY KEY,
    token_hash      TEXT NOT NULL UNIQUE,
    access_token_id UUID REFERENCES access_tokens (id),
    client_id       TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    scope           TEXT[] NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL,
    revoked         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_refresh_tokens_client_user ON refresh_tokens (client_id, user_id);
`
