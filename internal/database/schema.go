package database

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    saved_at INTEGER NOT NULL,
    snapshot TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_projects_saved_at ON projects (saved_at)`,
	`CREATE TABLE IF NOT EXISTS generation_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    project_id TEXT NOT NULL DEFAULT '',
    slot TEXT NOT NULL,
    kind TEXT NOT NULL,
    prompt TEXT NOT NULL,
    outcome TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_generation_logs_project ON generation_logs (project_id, id)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
    id VARCHAR(64) PRIMARY KEY,
    title VARCHAR(255) NOT NULL DEFAULT '',
    saved_at BIGINT NOT NULL,
    snapshot LONGTEXT NOT NULL,
    INDEX idx_projects_saved_at (saved_at)
)`,
	`CREATE TABLE IF NOT EXISTS generation_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    project_id VARCHAR(64) NOT NULL DEFAULT '',
    slot VARCHAR(128) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    prompt TEXT NOT NULL,
    outcome VARCHAR(16) NOT NULL,
    error TEXT,
    created_at BIGINT NOT NULL,
    INDEX idx_generation_logs_project (project_id, id)
)`,
}
