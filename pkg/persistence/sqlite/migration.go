package sqlite

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflows (
				workflow_id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			);

			CREATE TABLE IF NOT EXISTS nodes (
				node_id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(workflow_id),
				node_type TEXT NOT NULL,
				config_json TEXT NOT NULL DEFAULT '{}'
			);

			CREATE INDEX IF NOT EXISTS idx_nodes_workflow ON nodes(workflow_id, node_type);

			CREATE TABLE IF NOT EXISTS edges (
				edge_id INTEGER PRIMARY KEY AUTOINCREMENT,
				workflow_id TEXT NOT NULL REFERENCES workflows(workflow_id),
				source_node_id TEXT NOT NULL REFERENCES nodes(node_id),
				target_node_id TEXT NOT NULL REFERENCES nodes(node_id),
				source_handle TEXT,
				target_handle TEXT
			);

			CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(workflow_id, source_node_id);
			CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(workflow_id, target_node_id);

			CREATE TABLE IF NOT EXISTS executions (
				execution_id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(workflow_id),
				user_id TEXT NOT NULL DEFAULT '',
				strategy TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				finished_at TIMESTAMP,
				gas_budget_hint INTEGER NOT NULL DEFAULT 10000
			);

			CREATE TABLE IF NOT EXISTS jobs (
				job_id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL REFERENCES executions(execution_id),
				node_id TEXT NOT NULL REFERENCES nodes(node_id),
				workflow_id TEXT NOT NULL,
				user_id TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				input_data TEXT,
				output_data TEXT,
				error_message TEXT,
				created_at TIMESTAMP NOT NULL,
				started_at TIMESTAMP,
				finished_at TIMESTAMP
			);

			CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, created_at);
			CREATE INDEX IF NOT EXISTS idx_jobs_execution ON jobs(execution_id, status);
		`,
		2: `
			ALTER TABLE executions ADD COLUMN loop_config TEXT;
			ALTER TABLE executions ADD COLUMN loop_iteration INTEGER NOT NULL DEFAULT 1;
		`,
	}
}
