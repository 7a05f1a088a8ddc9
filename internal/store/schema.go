package store

// schema is the coordinator's full SQLite schema: anime, jobs, the
// title-selection cache, and worker heartbeats, plus every index the query
// layer relies on and the triggers that keep updated_at current even if a
// caller forgets to set it explicitly. Applied whole on every Open rather
// than through a migration framework, since this is a single embedded
// database with no multi-version rollout to coordinate.
const schema = `
CREATE TABLE IF NOT EXISTS anime (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	mal_id            INTEGER NOT NULL UNIQUE,
	title             TEXT NOT NULL,
	title_english     TEXT NOT NULL DEFAULT '',
	title_japanese    TEXT NOT NULL DEFAULT '',
	synonyms          TEXT NOT NULL DEFAULT '[]',
	genres            TEXT NOT NULL DEFAULT '[]',
	themes            TEXT NOT NULL DEFAULT '[]',
	demographics      TEXT NOT NULL DEFAULT '[]',
	studios           TEXT NOT NULL DEFAULT '[]',
	type              TEXT NOT NULL DEFAULT '',
	total_episodes    INTEGER NOT NULL DEFAULT 0,
	aired_from        DATETIME,
	aired_to          DATETIME,
	season            TEXT NOT NULL DEFAULT '',
	year              INTEGER NOT NULL DEFAULT 0,
	score             REAL NOT NULL DEFAULT 0,
	rank              INTEGER NOT NULL DEFAULT 0,
	popularity        INTEGER NOT NULL DEFAULT 0,
	source            TEXT NOT NULL DEFAULT '',
	rating            TEXT NOT NULL DEFAULT '',
	duration_minutes  INTEGER NOT NULL DEFAULT 0,
	processing_status TEXT NOT NULL DEFAULT 'pending',
	created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_anime_mal_id ON anime(mal_id);
CREATE INDEX IF NOT EXISTS idx_anime_rank ON anime(rank);
CREATE INDEX IF NOT EXISTS idx_anime_score ON anime(score);
CREATE INDEX IF NOT EXISTS idx_anime_processing_status ON anime(processing_status);

CREATE TRIGGER IF NOT EXISTS trg_anime_updated_at
AFTER UPDATE ON anime
WHEN NEW.updated_at = OLD.updated_at
BEGIN
	UPDATE anime SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TABLE IF NOT EXISTS jobs (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	anime_id              INTEGER NOT NULL REFERENCES anime(id),
	mal_id                INTEGER NOT NULL,
	episode               INTEGER NOT NULL,
	stage                 TEXT NOT NULL DEFAULT 'queued',
	progress              REAL NOT NULL DEFAULT 0,
	priority              INTEGER NOT NULL DEFAULT 0,
	depends_on            INTEGER REFERENCES jobs(id),
	created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	started_at            DATETIME,
	completed_at          DATETIME,
	retry_count           INTEGER NOT NULL DEFAULT 0,
	max_retries           INTEGER NOT NULL DEFAULT 3,
	error_message         TEXT NOT NULL DEFAULT '',
	video_path            TEXT NOT NULL DEFAULT '',
	transcript_path       TEXT NOT NULL DEFAULT '',
	video_size_bytes      INTEGER,
	audio_size_bytes      INTEGER,
	transcript_size_bytes INTEGER,
	video_deleted         INTEGER NOT NULL DEFAULT 0,
	audio_deleted         INTEGER NOT NULL DEFAULT 0,
	terminal_failure      INTEGER NOT NULL DEFAULT 0,
	UNIQUE(anime_id, episode)
);

CREATE INDEX IF NOT EXISTS idx_jobs_stage ON jobs(stage);
CREATE INDEX IF NOT EXISTS idx_jobs_anime_episode ON jobs(anime_id, episode);
CREATE INDEX IF NOT EXISTS idx_jobs_priority_created ON jobs(priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);
CREATE INDEX IF NOT EXISTS idx_jobs_mal_id ON jobs(mal_id);

CREATE TRIGGER IF NOT EXISTS trg_jobs_updated_at
AFTER UPDATE ON jobs
WHEN NEW.updated_at = OLD.updated_at
BEGIN
	UPDATE jobs SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END;

CREATE TABLE IF NOT EXISTS selections (
	mal_id            INTEGER PRIMARY KEY,
	query             TEXT NOT NULL DEFAULT '',
	selected_index    INTEGER NOT NULL,
	selected_title    TEXT NOT NULL DEFAULT '',
	confidence        TEXT NOT NULL,
	reason            TEXT NOT NULL DEFAULT '',
	mal_episodes      INTEGER NOT NULL DEFAULT 0,
	selected_episodes INTEGER NOT NULL DEFAULT 0,
	episode_match     TEXT NOT NULL DEFAULT 'unknown',
	updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS workers (
	worker_id      TEXT PRIMARY KEY,
	worker_type    TEXT NOT NULL,
	started_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	last_heartbeat DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
