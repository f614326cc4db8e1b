package cpstore

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS hosts (
			id                TEXT PRIMARY KEY,
			address           TEXT NOT NULL,
			rpc_port          INTEGER NOT NULL,
			credentials_ref   TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'down',
			status_error      TEXT NOT NULL DEFAULT '',
			hypervisor_version TEXT NOT NULL DEFAULT '',
			kernel_version    TEXT NOT NULL DEFAULT '',
			metadata          TEXT NOT NULL DEFAULT '{}',
			created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS boot_sources (
			id             TEXT PRIMARY KEY,
			kernel_ref     TEXT NOT NULL,
			initrd_ref     TEXT NOT NULL DEFAULT '',
			firmware_ref   TEXT NOT NULL DEFAULT '',
			kernel_args    TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS storage_pools (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			config     TEXT NOT NULL DEFAULT '{}',
			capacity   INTEGER,
			allocated  INTEGER NOT NULL DEFAULT 0,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS storage_objects (
			id          TEXT PRIMARY KEY,
			pool_id     TEXT NOT NULL REFERENCES storage_pools(id),
			name        TEXT NOT NULL,
			type        TEXT NOT NULL,
			size_bytes  INTEGER NOT NULL DEFAULT 0,
			config      TEXT NOT NULL DEFAULT '{}',
			parent_id   TEXT REFERENCES storage_objects(id),
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			UNIQUE(pool_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS vms (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL UNIQUE,
			host_id         TEXT REFERENCES hosts(id),
			hypervisor      TEXT NOT NULL,
			boot_vcpus      INTEGER NOT NULL,
			max_vcpus       INTEGER NOT NULL,
			topology        TEXT NOT NULL DEFAULT 'null',
			hyperv          INTEGER NOT NULL DEFAULT 0,
			memory_size     INTEGER NOT NULL,
			hotplug_size    INTEGER NOT NULL DEFAULT 0,
			hugepages       INTEGER NOT NULL DEFAULT 0,
			memory_shared   INTEGER NOT NULL DEFAULT 0,
			mergeable       INTEGER NOT NULL DEFAULT 0,
			prefault        INTEGER NOT NULL DEFAULT 0,
			thp             INTEGER NOT NULL DEFAULT 0,
			boot_source_id  TEXT REFERENCES boot_sources(id),
			image_ref       TEXT NOT NULL DEFAULT '',
			disks           TEXT NOT NULL DEFAULT '[]',
			networks        TEXT NOT NULL DEFAULT '[]',
			consoles        TEXT NOT NULL DEFAULT '[]',
			rng             TEXT NOT NULL DEFAULT 'null',
			filesystems     TEXT NOT NULL DEFAULT '[]',
			rate_limit_groups TEXT NOT NULL DEFAULT '[]',
			status          TEXT NOT NULL DEFAULT 'unknown',
			status_error    TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vms_host_id ON vms(host_id)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id          TEXT PRIMARY KEY,
			type        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			progress    INTEGER NOT NULL DEFAULT 0,
			resource_ref TEXT NOT NULL DEFAULT '',
			result      TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
		`CREATE TABLE IF NOT EXISTS transfers (
			id          TEXT PRIMARY KEY,
			pool_id     TEXT NOT NULL REFERENCES storage_pools(id),
			source_uri  TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			progress    INTEGER NOT NULL DEFAULT 0,
			object_id   TEXT REFERENCES storage_objects(id),
			error       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			updated_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
