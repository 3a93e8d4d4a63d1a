package store

import "fmt"

var sqliteSchema = []string{
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id INTEGER NOT NULL,
	session_id VARCHAR(%d) NOT NULL,
	identifier VARCHAR(%d) NOT NULL,
	name VARCHAR(%d) NOT NULL,
	status VARCHAR(%d) NOT NULL,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL
)`, MaxSessionID, MaxIdentifier, MaxName, MaxStatus),
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS steps (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_id INTEGER NOT NULL REFERENCES tests(id),
	parent_step_id INTEGER REFERENCES steps(id),
	identifier VARCHAR(%d) NOT NULL,
	name VARCHAR(%d) NOT NULL,
	status VARCHAR(%d) NOT NULL,
	message VARCHAR(%d),
	trace TEXT,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL
)`, MaxIdentifier, MaxName, MaxStatus, MaxMessage),
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS step_parameters (
	step_id INTEGER NOT NULL REFERENCES steps(id),
	name VARCHAR(%d) NOT NULL,
	value VARCHAR(%d)
)`, MaxParamName, MaxParamValue),
	`CREATE INDEX IF NOT EXISTS steps_test_id ON steps(test_id)`,
}

var postgresSchema = []string{
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS tests (
	id BIGSERIAL PRIMARY KEY,
	project_id BIGINT NOT NULL,
	session_id VARCHAR(%d) NOT NULL,
	identifier VARCHAR(%d) NOT NULL,
	name VARCHAR(%d) NOT NULL,
	status VARCHAR(%d) NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL
)`, MaxSessionID, MaxIdentifier, MaxName, MaxStatus),
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS steps (
	id BIGSERIAL PRIMARY KEY,
	test_id BIGINT NOT NULL REFERENCES tests(id),
	parent_step_id BIGINT REFERENCES steps(id),
	identifier VARCHAR(%d) NOT NULL,
	name VARCHAR(%d) NOT NULL,
	status VARCHAR(%d) NOT NULL,
	message VARCHAR(%d),
	trace VARCHAR(%d),
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL
)`, MaxIdentifier, MaxName, MaxStatus, MaxMessage, MaxTrace),
	fmt.Sprintf(`CREATE TABLE IF NOT EXISTS step_parameters (
	step_id BIGINT NOT NULL REFERENCES steps(id),
	name VARCHAR(%d) NOT NULL,
	value VARCHAR(%d)
)`, MaxParamName, MaxParamValue),
	`CREATE INDEX IF NOT EXISTS steps_test_id ON steps(test_id)`,
}
