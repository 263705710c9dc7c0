package db

import "embed"

// EmbedMigrations holds the orchestration metastore schema migrations
// (pipelines, job_runs, job_dependencies), compiled into the binary so a
// worker can migrate its own database on startup.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
