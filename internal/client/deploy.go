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

package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sapcc/go-bits/logg"

	"github.com/filesetd/fileset/internal/blobs"
	"github.com/filesetd/fileset/internal/fileset"
)

const uploadAttempts = 3

//Deployer uploads a directory of rendered files to a fileset server and
//points a branch at the resulting manifest.
type Deployer struct {
	Client *Client
	//Workers is the number of concurrent blob uploads.
	Workers int
	//CachePath is where successfully uploaded blob hashes are remembered
	//between runs, keyed by server, so that repeat deploys skip the
	//existence probes for unchanged files.
	CachePath string

	cacheMutex sync.Mutex
	cache      map[string]bool
}

//NewDeployer creates a Deployer with the default settings.
func NewDeployer(c *Client) *Deployer {
	return &Deployer{
		Client:    c,
		Workers:   20,
		CachePath: ".fileset-cache.json",
	}
}

type fileUpload struct {
	Sha      string
	Path     string
	Contents []byte
}

//Deploy walks `dir`, uploads all blobs the server does not have yet, uploads
//the manifest and sets the branch pointer (immediately, or at
//deployTimestamp if non-nil). Returns the new manifest's ID.
func (d *Deployer) Deploy(dir, branch string, commit fileset.CommitInfo, deployTimestamp *int64) (int64, error) {
	entries, uploadsBySha, err := collectFiles(dir)
	if err != nil {
		return 0, err
	}
	logg.Info("deploying %d files (%d distinct blobs) to %s", len(entries), len(uploadsBySha), d.Client.Server)

	d.loadCache()

	var uploads []fileUpload
	for sha, upload := range uploadsBySha {
		if d.isCached(sha) {
			continue
		}
		exists, err := d.Client.BlobExists(sha)
		if err != nil {
			return 0, err
		}
		if exists {
			d.markUploaded(sha)
			continue
		}
		uploads = append(uploads, upload)
	}

	err = d.uploadBlobs(uploads)
	//flush before propagating any upload error, so that the next run does
	//not re-upload the blobs that did make it
	d.flushCache()
	if err != nil {
		return 0, err
	}

	manifestID, err := d.Client.UploadManifest(commit, entries)
	if err != nil {
		return 0, err
	}
	err = d.Client.SetBranchManifest(branch, manifestID, deployTimestamp)
	if err != nil {
		return 0, err
	}
	return manifestID, nil
}

func collectFiles(dir string) ([]FileEntry, map[string]fileUpload, error) {
	var entries []FileEntry
	uploads := make(map[string]fileUpload)

	err := filepath.Walk(dir, func(fsPath string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		contents, err := os.ReadFile(fsPath)
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(dir, fsPath)
		if err != nil {
			return err
		}

		sha := blobs.HashOf(contents)
		servePath := "/" + filepath.ToSlash(relPath)
		entries = append(entries, FileEntry{Sha: sha, Path: servePath})
		uploads[sha] = fileUpload{Sha: sha, Path: servePath, Contents: contents}
		return nil
	})
	return entries, uploads, err
}

func (d *Deployer) uploadBlobs(uploads []fileUpload) error {
	if len(uploads) == 0 {
		return nil
	}

	queue := make(chan fileUpload, len(uploads))
	for _, upload := range uploads {
		queue <- upload
	}
	close(queue)

	var (
		wg         sync.WaitGroup
		errMutex   sync.Mutex
		firstError error
	)
	for i := 0; i < d.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for upload := range queue {
				err := d.uploadWithRetry(upload)
				if err != nil {
					errMutex.Lock()
					if firstError == nil {
						firstError = err
					}
					errMutex.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return firstError
}

func (d *Deployer) uploadWithRetry(upload fileUpload) error {
	var err error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		err = d.Client.UploadBlob(upload.Sha, upload.Path, upload.Contents)
		if err == nil {
			logg.Info("uploaded blob %s %s", upload.Sha, upload.Path)
			d.markUploaded(upload.Sha)
			return nil
		}
		logg.Error("upload of %s failed (attempt %d/%d): %s", upload.Path, attempt, uploadAttempts, err.Error())
	}
	return err
}

func (d *Deployer) cacheKey(sha string) string {
	return fmt.Sprintf("%s::blob::%s", d.Client.Server, sha)
}

func (d *Deployer) isCached(sha string) bool {
	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()
	return d.cache[d.cacheKey(sha)]
}

func (d *Deployer) markUploaded(sha string) {
	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()
	d.cache[d.cacheKey(sha)] = true
}

func (d *Deployer) loadCache() {
	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()
	d.cache = make(map[string]bool)

	buf, err := os.ReadFile(d.CachePath)
	if err != nil {
		return
	}
	//a broken cache file is not an error, just a cold cache
	if err := json.Unmarshal(buf, &d.cache); err != nil {
		d.cache = make(map[string]bool)
	}
}

func (d *Deployer) flushCache() {
	d.cacheMutex.Lock()
	defer d.cacheMutex.Unlock()

	buf, err := json.MarshalIndent(d.cache, "", "  ")
	if err == nil {
		err = os.WriteFile(d.CachePath, buf, 0666)
	}
	if err != nil {
		logg.Error("cannot write %s: %s", d.CachePath, err.Error())
	}
}
