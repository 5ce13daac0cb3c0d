package storage

const schema = `
-- Every entity table carries the same identity columns. 'key' is KIND_<id>
-- and is filled in right after the row is inserted.

-- The 'stacks' table stores the stack tree. Children and items are JSON arrays of keys.
CREATE TABLE IF NOT EXISTS stacks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    parent TEXT NOT NULL DEFAULT '',
    children TEXT NOT NULL DEFAULT '[]',
    items TEXT NOT NULL DEFAULT '[]'
);

-- The 'contents' table stores flashcards, questions and notes.
CREATE TABLE IF NOT EXISTS contents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    type TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    front TEXT NOT NULL DEFAULT '',
    back TEXT NOT NULL DEFAULT '',
    text TEXT NOT NULL DEFAULT '',
    answers TEXT NOT NULL DEFAULT '[]',
    question_type TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    difficulty TEXT NOT NULL DEFAULT '',
    priority TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    teacher TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    customfields TEXT NOT NULL DEFAULT '[]',
    last_viewed_at TEXT,
    next_view_on TEXT, -- YYYY-MM-DD
    is_assigned_to_stack INTEGER NOT NULL DEFAULT 0,
    fingerprint TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS difficulties (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    display_name TEXT NOT NULL,
    name TEXT NOT NULL UNIQUE,
    value REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS priorities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    display_name TEXT NOT NULL,
    name TEXT NOT NULL UNIQUE,
    value REAL NOT NULL
);

-- Users, subjects, teachers and tags are named labels created on first use.
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS subjects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS teachers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    name TEXT NOT NULL UNIQUE
);

-- The 'rehearsal_runs' table stores study sessions. 'items' maps content keys to their order.
CREATE TABLE IF NOT EXISTS rehearsal_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    author TEXT NOT NULL DEFAULT '',
    stacks TEXT NOT NULL DEFAULT '[]',
    configuration TEXT NOT NULL DEFAULT '{}',
    items TEXT NOT NULL DEFAULT '{}',
    scheduled_at TEXT,
    started_at TEXT,
    completed_at TEXT,
    abandoned_at TEXT,
    is_finished INTEGER NOT NULL DEFAULT 0,
    duration TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS rehearsal_run_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    run TEXT NOT NULL,
    item TEXT NOT NULL,
    item_order INTEGER NOT NULL,
    started_at TEXT,
    completed_at TEXT,
    result TEXT NOT NULL DEFAULT '',
    actions TEXT NOT NULL DEFAULT '[]',

    UNIQUE(run, item_order)
);

CREATE TABLE IF NOT EXISTS rehearsal_actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE,
    uuid TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT,
    run TEXT NOT NULL,
    run_item TEXT NOT NULL,
    action_data TEXT NOT NULL DEFAULT '{}',
    message TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL
);

-- The 'sources' table tracks the origin of imported content, either a local directory or a git repository.
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE,
    last_scanned TEXT
);

CREATE INDEX IF NOT EXISTS idx_run_items_run ON rehearsal_run_items(run);
CREATE INDEX IF NOT EXISTS idx_actions_run_item ON rehearsal_actions(run_item);
`
