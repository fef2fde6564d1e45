/*******************************************************************************
*
* Copyright 2021 The Fileset Authors
*
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You should have received a copy of the License along with this
* program. If not, you may obtain a copy of the License at
*
*     http://www.apache.org/licenses/LICENSE-2.0
*
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
*
*******************************************************************************/

package fileset

import (
	"database/sql"

	"github.com/sapcc/go-bits/easypg"
	gorp "gopkg.in/gorp.v2"
)

var sqlMigrations = map[string]string{
	"001_initial.up.sql": `
		CREATE TABLE manifests (
			id          BIGSERIAL   NOT NULL PRIMARY KEY,
			commit_json TEXT        NOT NULL,
			paths_json  TEXT        NOT NULL,
			created     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE branches (
			name        TEXT   NOT NULL PRIMARY KEY,
			manifest_id BIGINT NOT NULL REFERENCES manifests ON DELETE CASCADE
		);

		CREATE TABLE timed_deploys (
			branch           TEXT        NOT NULL PRIMARY KEY,
			manifest_id      BIGINT      NOT NULL REFERENCES manifests ON DELETE CASCADE,
			deploy_timestamp BIGINT      NOT NULL,
			created          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			deployed         TIMESTAMPTZ DEFAULT NULL
		);

		CREATE TABLE tokens (
			token       TEXT        NOT NULL PRIMARY KEY,
			description TEXT        NOT NULL DEFAULT '',
			created_by  TEXT        NOT NULL DEFAULT '',
			created     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_used   TIMESTAMPTZ DEFAULT NULL
		);
	`,
	"001_initial.down.sql": `
		DROP TABLE tokens;
		DROP TABLE timed_deploys;
		DROP TABLE branches;
		DROP TABLE manifests;
	`,
}

//DB adds convenience functions on top of gorp.DbMap. It is created by
//InitORM().
type DB struct {
	gorp.DbMap
}

//DBConfiguration returns the easypg.Configuration object that is used by
//InitDB() and by the test setup.
func DBConfiguration() easypg.Configuration {
	return easypg.Configuration{
		Migrations: sqlMigrations,
	}
}

//InitORM wraps a database connection into a DB instance.
func InitORM(dbConn *sql.DB) *DB {
	result := &DB{DbMap: gorp.DbMap{Db: dbConn, Dialect: gorp.PostgresDialect{}}}
	initModels(&result.DbMap)
	return result
}
