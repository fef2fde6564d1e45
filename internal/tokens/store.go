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

//Package tokens maintains the opaque bearer tokens that authorize writes on
//the ingest API.
package tokens

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sapcc/go-bits/logg"

	"github.com/filesetd/fileset/internal/fileset"
)

//Store validates and manages API tokens. Validation results are cached
//positively: a token once seen valid is trusted for the lifetime of the
//process, an unknown token hits the DB every time.
type Store struct {
	db *fileset.DB

	cacheMutex  sync.RWMutex
	knownTokens map[string]struct{}
}

//NewStore creates a Store.
func NewStore(db *fileset.DB) *Store {
	return &Store{db: db, knownTokens: make(map[string]struct{})}
}

//Create mints a new token with 256 bits of entropy and stores it.
func (s *Store) Create(description, createdBy string, now time.Time) (string, error) {
	var buf [32]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		return "", fmt.Errorf("could not generate random bytes for token: %w", err)
	}
	token := hex.EncodeToString(buf[:])

	err = s.db.Insert(&fileset.Token{
		Token:       token,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   now,
	})
	return token, err
}

//Validate checks whether the token authorizes write access. Possession of a
//valid token is the entire access model; there are no scopes.
func (s *Store) Validate(token string, now time.Time) (bool, error) {
	if token == "" {
		return false, nil
	}

	s.cacheMutex.RLock()
	_, cached := s.knownTokens[token]
	s.cacheMutex.RUnlock()
	if cached {
		return true, nil
	}

	var dbToken fileset.Token
	err := s.db.SelectOne(&dbToken, `SELECT * FROM tokens WHERE token = $1`, token)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	//best-effort bookkeeping; happens at most once per process per token
	//since subsequent validations hit the cache
	_, err = s.db.Exec(`UPDATE tokens SET last_used = $1 WHERE token = $2`, now, token)
	if err != nil {
		logg.Error("cannot update last_used for token %q...: %s", token[0:8], err.Error())
	}

	s.cacheMutex.Lock()
	s.knownTokens[token] = struct{}{}
	s.cacheMutex.Unlock()
	return true, nil
}

//Revoke deletes a token. Other processes may keep trusting it until they
//restart (positive caches are per-process).
func (s *Store) Revoke(token string) error {
	_, err := s.db.Exec(`DELETE FROM tokens WHERE token = $1`, token)
	if err != nil {
		return err
	}
	s.cacheMutex.Lock()
	delete(s.knownTokens, token)
	s.cacheMutex.Unlock()
	return nil
}
