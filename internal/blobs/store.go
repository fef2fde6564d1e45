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

//Package blobs maintains the content-addressed blob storage. Blobs are
//identified by the lowercase hex SHA-1 of their contents and stored in the
//object store under "blobs/<sha>". Identical content across files, branches
//and manifests is stored exactly once.
package blobs

import (
	"crypto/sha1" //nolint:gosec // content addressing, not auth; fixed by the wire contract
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/filesetd/fileset/internal/fileset"
)

var uploadedBlobsCounter = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fileset_uploaded_blobs_total",
	Help: "Number of blobs written into the object store.",
})

func init() {
	prometheus.MustRegister(uploadedBlobsCounter)
}

//HashRx matches a valid blob identifier.
var HashRx = regexp.MustCompile(`^[0-9a-f]{40}$`)

//HashMismatchError is returned by Store.Write when the uploaded content does
//not hash to the declared SHA.
type HashMismatchError struct {
	Expected string
	Actual   string
}

//Error implements the builtin/error interface.
func (e HashMismatchError) Error() string {
	return fmt.Sprintf("sha mismatch: expected %s, content hashes to %s", e.Expected, e.Actual)
}

//Store wraps a fileset.StorageDriver with content addressing, upload
//verification and an existence cache.
type Store struct {
	driver fileset.StorageDriver
	bucket string

	//Positive results only: a hit means the object certainly exists, a miss
	//means nothing. Absence is never cached, so a blob uploaded by another
	//process becomes visible here no later than the next driver check.
	cacheMutex  sync.RWMutex
	knownHashes map[string]struct{}
}

//NewStore creates a Store.
func NewStore(driver fileset.StorageDriver, cfg fileset.Configuration) *Store {
	return &Store{
		driver:      driver,
		bucket:      cfg.BlobBucket,
		knownHashes: make(map[string]struct{}),
	}
}

//ObjectKey returns the driver-level key for a blob.
func ObjectKey(sha string) string {
	return "blobs/" + sha
}

//ExternalKey returns the bucket-qualified key for a blob, as handed to
//byte-streaming facilities: "/<bucket>/blobs/<sha>".
func (s *Store) ExternalKey(sha string) string {
	return "/" + s.bucket + "/" + ObjectKey(sha)
}

//HashOf returns the blob identifier for the given content.
func HashOf(contents []byte) string {
	sum := sha1.Sum(contents) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

//Write stores a blob after verifying that its content matches `sha`. Writing
//the same blob twice is harmless (idempotent overwrite with identical bytes).
func (s *Store) Write(sha string, contents []byte, contentType string) error {
	if !HashRx.MatchString(sha) {
		return fmt.Errorf("malformed sha: %q", sha)
	}
	actual := HashOf(contents)
	if actual != sha {
		return HashMismatchError{Expected: sha, Actual: actual}
	}

	err := s.driver.WriteObject(ObjectKey(sha), contents, contentType)
	if err != nil {
		return err
	}
	uploadedBlobsCounter.Inc()

	s.cacheMutex.Lock()
	s.knownHashes[sha] = struct{}{}
	s.cacheMutex.Unlock()
	return nil
}

//Exists checks whether a blob is present in storage. Positive results are
//cached for the lifetime of the process.
func (s *Store) Exists(sha string) (bool, error) {
	s.cacheMutex.RLock()
	_, cached := s.knownHashes[sha]
	s.cacheMutex.RUnlock()
	if cached {
		return true, nil
	}

	exists, err := s.driver.ObjectExists(ObjectKey(sha))
	if err != nil {
		return false, err
	}
	if exists {
		s.cacheMutex.Lock()
		s.knownHashes[sha] = struct{}{}
		s.cacheMutex.Unlock()
	}
	return exists, nil
}

//Open returns a reader for the blob's content, or fileset.ErrNoSuchObject.
func (s *Store) Open(sha string) (io.ReadCloser, error) {
	return s.driver.ReadObject(ObjectKey(sha))
}

//Read returns the blob's content in one piece, or fileset.ErrNoSuchObject.
func (s *Store) Read(sha string) ([]byte, error) {
	reader, err := s.Open(sha)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}
