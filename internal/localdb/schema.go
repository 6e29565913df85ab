package localdb

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id              INTEGER  PRIMARY KEY AUTOINCREMENT,
    global_id       TEXT     NOT NULL UNIQUE,
    sync_status     TEXT     NOT NULL DEFAULT 'pending',
    last_synced_at  DATETIME,
    is_deleted      BOOLEAN  NOT NULL DEFAULT 0,
    sync_error      TEXT     NOT NULL DEFAULT '',
    sync_attempts   INTEGER  NOT NULL DEFAULT 0,
    revision        INTEGER  NOT NULL DEFAULT 0,
    username        TEXT     NOT NULL UNIQUE,
    hashed_password TEXT     NOT NULL DEFAULT '',
    role            TEXT     NOT NULL DEFAULT 'practitioner',
    account_type    TEXT     NOT NULL DEFAULT 'practitioner',
    is_active       BOOLEAN  NOT NULL DEFAULT 1,
    real_name       TEXT     NOT NULL DEFAULT '',
    email           TEXT     NOT NULL DEFAULT '',
    phone           TEXT     NOT NULL DEFAULT '',
    organization    TEXT     NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS practitioners (
    id             INTEGER  PRIMARY KEY AUTOINCREMENT,
    global_id      TEXT     NOT NULL UNIQUE,
    sync_status    TEXT     NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME,
    is_deleted     BOOLEAN  NOT NULL DEFAULT 0,
    sync_error     TEXT     NOT NULL DEFAULT '',
    sync_attempts  INTEGER  NOT NULL DEFAULT 0,
    revision       INTEGER  NOT NULL DEFAULT 0,
    name           TEXT     NOT NULL UNIQUE,
    role           TEXT     NOT NULL DEFAULT 'doctor',
    created_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS patients (
    id             INTEGER  PRIMARY KEY AUTOINCREMENT,
    global_id      TEXT     NOT NULL UNIQUE,
    sync_status    TEXT     NOT NULL DEFAULT 'pending',
    last_synced_at DATETIME,
    is_deleted     BOOLEAN  NOT NULL DEFAULT 0,
    sync_error     TEXT     NOT NULL DEFAULT '',
    sync_attempts  INTEGER  NOT NULL DEFAULT 0,
    revision       INTEGER  NOT NULL DEFAULT 0,
    name           TEXT     NOT NULL,
    pinyin         TEXT     NOT NULL DEFAULT '',
    phone          TEXT     NOT NULL DEFAULT '',
    gender         TEXT     NOT NULL DEFAULT '',
    age            INTEGER,
    info           TEXT     NOT NULL DEFAULT '{}',
    creator_id     INTEGER  REFERENCES users (id),
    created_at     DATETIME NOT NULL,
    updated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS medical_records (
    id              INTEGER  PRIMARY KEY AUTOINCREMENT,
    global_id       TEXT     NOT NULL UNIQUE,
    sync_status     TEXT     NOT NULL DEFAULT 'pending',
    last_synced_at  DATETIME,
    is_deleted      BOOLEAN  NOT NULL DEFAULT 0,
    sync_error      TEXT     NOT NULL DEFAULT '',
    sync_attempts   INTEGER  NOT NULL DEFAULT 0,
    revision        INTEGER  NOT NULL DEFAULT 0,
    patient_id      INTEGER  NOT NULL REFERENCES patients (id),
    practitioner_id INTEGER  REFERENCES practitioners (id),
    user_id         INTEGER  REFERENCES users (id),
    visit_date      DATETIME NOT NULL,
    complaint       TEXT     NOT NULL DEFAULT '',
    diagnosis       TEXT     NOT NULL DEFAULT '',
    data            TEXT     NOT NULL DEFAULT '{}',
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_users_status         ON users (sync_status);
CREATE INDEX IF NOT EXISTS idx_practitioners_status ON practitioners (sync_status);
CREATE INDEX IF NOT EXISTS idx_patients_status      ON patients (sync_status);
CREATE INDEX IF NOT EXISTS idx_patients_name        ON patients (name);
CREATE INDEX IF NOT EXISTS idx_patients_pinyin      ON patients (pinyin);
CREATE INDEX IF NOT EXISTS idx_records_status       ON medical_records (sync_status);
CREATE INDEX IF NOT EXISTS idx_records_patient      ON medical_records (patient_id, visit_date);
CREATE INDEX IF NOT EXISTS idx_records_practitioner ON medical_records (practitioner_id, created_at);
`
