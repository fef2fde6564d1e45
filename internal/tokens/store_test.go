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

package tokens_test

import (
	"database/sql"
	"testing"

	"github.com/sapcc/go-bits/easypg"
	"github.com/sapcc/go-bits/must"

	"github.com/filesetd/fileset/internal/test"
	"github.com/filesetd/fileset/internal/tokens"
)

func TestMain(m *testing.M) {
	easypg.WithTestDB(m, func() int { return m.Run() })
}

func TestTokenLifecycle(t *testing.T) {
	s := test.NewSetup(t)
	store := tokens.NewStore(s.DB)

	token, err := store.Create("test token", "admin@example.com", s.Clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(token) != 64 {
		t.Fatalf("expected a 64-char hex token, got %q", token)
	}

	ok := must.Return(store.Validate(token, s.Clock.Now()))
	if !ok {
		t.Error("freshly created token does not validate")
	}
	ok = must.Return(store.Validate("0000000000000000000000000000000000000000000000000000000000000000", s.Clock.Now()))
	if ok {
		t.Error("unknown token validates")
	}
	ok = must.Return(store.Validate("", s.Clock.Now()))
	if ok {
		t.Error("empty token validates")
	}

	//validation records the last use
	var lastUsed sql.NullTime
	err = s.DB.SelectOne(&lastUsed, `SELECT last_used FROM tokens WHERE token = $1`, token)
	if err != nil {
		t.Fatal(err)
	}
	if !lastUsed.Valid {
		t.Error("expected last_used to be set after validation")
	}

	must.Succeed(store.Revoke(token))
	ok = must.Return(store.Validate(token, s.Clock.Now()))
	if ok {
		t.Error("revoked token validates")
	}
}
