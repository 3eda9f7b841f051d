package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				workflow_id TEXT PRIMARY KEY,
				name TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE nodes (
				node_id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(workflow_id),
				node_type TEXT NOT NULL,
				config_json TEXT NOT NULL DEFAULT '{}'
			);

			CREATE INDEX idx_nodes_workflow ON nodes(workflow_id, node_type);

			CREATE TABLE edges (
				edge_id BIGSERIAL PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(workflow_id),
				source_node_id TEXT NOT NULL REFERENCES nodes(node_id),
				target_node_id TEXT NOT NULL REFERENCES nodes(node_id),
				source_handle TEXT,
				target_handle TEXT
			);

			CREATE INDEX idx_edges_source ON edges(workflow_id, source_node_id);
			CREATE INDEX idx_edges_target ON edges(workflow_id, target_node_id);

			CREATE TABLE executions (
				execution_id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES workflows(workflow_id),
				user_id TEXT NOT NULL DEFAULT '',
				strategy TEXT NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL CHECK (status IN ('RUNNING', 'SUCCEEDED', 'FAILED', 'STOPPED', 'PAUSED')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				finished_at TIMESTAMP WITH TIME ZONE,
				gas_budget_hint BIGINT NOT NULL DEFAULT 10000
			);

			CREATE TABLE jobs (
				seq BIGSERIAL,
				job_id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL REFERENCES executions(execution_id),
				node_id TEXT NOT NULL REFERENCES nodes(node_id),
				workflow_id TEXT NOT NULL,
				user_id TEXT NOT NULL DEFAULT '',
				status VARCHAR(16) NOT NULL CHECK (status IN ('PENDING', 'RUNNING', 'DONE', 'FAILED', 'CANCELLED', 'PAUSED')),
				input_data TEXT,
				output_data TEXT,
				error_message TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_jobs_claim ON jobs(status, created_at, seq);
			CREATE INDEX idx_jobs_execution ON jobs(execution_id, status);
		`,
		2: `
			ALTER TABLE executions ADD COLUMN loop_config TEXT;
			ALTER TABLE executions ADD COLUMN loop_iteration INTEGER NOT NULL DEFAULT 1;
		`,
	}
}
