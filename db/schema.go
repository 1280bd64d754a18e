package db

// schemaStatements is applied, in order, on every startup. Statements are
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) so
// running them against an already-migrated database is a no-op.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS actors(
		actor_id text NOT NULL PRIMARY KEY,
		domain text NOT NULL,
		preferred_username text NOT NULL,
		actor_type text NOT NULL,
		inbox text NOT NULL,
		outbox text NOT NULL,
		followers text,
		following text,
		shared_inbox text,
		public_key_id text,
		public_key_pem text,
		private_key_ref text,
		manually_approves int default 0,
		published timestamp,
		last_fetched timestamp,
		local int default 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_actors_domain ON actors(domain)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_username_local ON actors(preferred_username) WHERE local = 1`,

	`CREATE TABLE IF NOT EXISTS keys(
		key_id text NOT NULL PRIMARY KEY,
		actor_id text NOT NULL,
		algorithm text NOT NULL,
		public_key_pem text NOT NULL,
		private_key_pem text,
		trust_level text NOT NULL,
		created_at timestamp default current_timestamp,
		rotated_at timestamp,
		FOREIGN KEY(actor_id) REFERENCES actors(actor_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_keys_actor ON keys(actor_id)`,

	`CREATE TABLE IF NOT EXISTS objects(
		object_id text NOT NULL PRIMARY KEY,
		object_type text NOT NULL,
		attributed_to text,
		content text,
		summary text,
		in_reply_to text,
		to_json text,
		cc_json text,
		bto_json text,
		bcc_json text,
		published timestamp,
		updated timestamp,
		deleted_at timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS idx_objects_attributed_to ON objects(attributed_to, published)`,

	`CREATE TABLE IF NOT EXISTS activities(
		activity_id text NOT NULL PRIMARY KEY,
		activity_type text NOT NULL,
		actor text NOT NULL,
		object_id text,
		target text,
		published timestamp,
		status text NOT NULL,
		audience_json text,
		local int default 0,
		raw_json text
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activities_actor ON activities(actor, published)`,

	`CREATE TABLE IF NOT EXISTS follows(
		follower text NOT NULL,
		following text NOT NULL,
		follow_activity_id text NOT NULL,
		state text NOT NULL,
		created_at timestamp default current_timestamp,
		PRIMARY KEY(follower, following)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_follows_following ON follows(following, state)`,
	`CREATE INDEX IF NOT EXISTS idx_follows_activity ON follows(follow_activity_id)`,

	`CREATE TABLE IF NOT EXISTS delivery_reports(
		id integer PRIMARY KEY AUTOINCREMENT,
		activity_id text NOT NULL,
		recipient text NOT NULL,
		inbox_url text NOT NULL,
		result text NOT NULL,
		status int,
		reason text,
		suggested_action text,
		attempts int default 0,
		delivered_at timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_reports_activity ON delivery_reports(activity_id)`,

	`CREATE TABLE IF NOT EXISTS delivery_jobs(
		id integer PRIMARY KEY AUTOINCREMENT,
		activity_id text NOT NULL,
		recipient text NOT NULL,
		inbox_url text NOT NULL,
		attempts int default 0,
		next_attempt_at timestamp default current_timestamp,
		last_error text,
		created_at timestamp default current_timestamp
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_jobs_next_attempt ON delivery_jobs(next_attempt_at)`,
}
