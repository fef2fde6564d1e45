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

//Package client talks to a fileset server's ingest API. The deploy command
//is a thin wrapper around this package.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/filesetd/fileset/internal/fileset"
)

//Client calls the ingest API of one fileset server.
type Client struct {
	//Server is the host (optionally with port) of the fileset server, without
	//a scheme. Hosts starting with "localhost" are contacted via plain HTTP.
	Server string
	Token  string

	HTTPClient *http.Client
}

//New creates a Client.
func New(server, token string) *Client {
	return &Client{
		Server:     server,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	}
}

//FileEntry is one file in a manifest upload.
type FileEntry struct {
	Sha  string `json:"sha"`
	Path string `json:"path"`
}

func (c *Client) url(apiPath string) string {
	scheme := "https"
	if strings.HasPrefix(c.Server, "localhost") || strings.HasPrefix(c.Server, "127.0.0.1") {
		scheme = "http"
	}
	return scheme + "://" + c.Server + apiPath
}

func (c *Client) do(req *http.Request, target interface{}) error {
	req.Header.Set("X-Fileset-Token", c.Token)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(buf, &envelope); err != nil || !envelope.Success {
		message := envelope.Error
		if message == "" {
			message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("%s failed: %s", req.URL.Path, message)
	}
	if target != nil {
		return json.Unmarshal(buf, target)
	}
	return nil
}

func (c *Client) postJSON(apiPath string, request, target interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.url(apiPath), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, target)
}

//UploadManifest stores a new manifest on the server and returns its ID.
func (c *Client) UploadManifest(commit fileset.CommitInfo, files []FileEntry) (int64, error) {
	request := map[string]interface{}{
		"commit": commit,
		"files":  files,
	}
	var response struct {
		ManifestID int64 `json:"manifest_id"`
	}
	err := c.postJSON("/_fs/api/manifest.upload", request, &response)
	return response.ManifestID, err
}

//BlobExists checks whether the server already has this blob.
func (c *Client) BlobExists(sha string) (bool, error) {
	var response struct {
		Exists bool `json:"exists"`
	}
	err := c.postJSON("/_fs/api/blob.exists", map[string]string{"sha": sha}, &response)
	return response.Exists, err
}

//UploadBlob uploads one file's content. The sha travels in the query string;
//`filePath` is only used to derive the file name (and thus the stored content
//type).
func (c *Client) UploadBlob(sha, filePath string, contents []byte) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("blob", path.Base(filePath))
	if err != nil {
		return err
	}
	_, err = part.Write(contents)
	if err != nil {
		return err
	}
	err = writer.Close()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.url("/_fs/api/blob.upload?sha="+sha), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, nil)
}

//SetBranchManifest points a branch at a manifest. A non-nil deployTimestamp
//schedules the flip for that UNIX timestamp instead of applying it now.
func (c *Client) SetBranchManifest(branch string, manifestID int64, deployTimestamp *int64) error {
	request := map[string]interface{}{
		"branch":      branch,
		"manifest_id": manifestID,
	}
	if deployTimestamp != nil {
		request["deploy_timestamp"] = *deployTimestamp
	}
	return c.postJSON("/_fs/api/branch.set_manifest", request, nil)
}

//GetBranchManifest returns the manifest currently served for a branch.
func (c *Client) GetBranchManifest(branch string) (manifestID int64, paths map[string]string, err error) {
	var response struct {
		ManifestID int64             `json:"manifest_id"`
		Paths      map[string]string `json:"paths"`
	}
	err = c.postJSON("/_fs/api/branch.get_manifest", map[string]string{"branch": branch}, &response)
	return response.ManifestID, response.Paths, err
}

//NormalizeBranch converts a git branch name into a fileset branch name:
//"feature/" prefixes are stripped, slashes become dashes, everything is
//lowercased (branch names appear in staging host names).
func NormalizeBranch(branch string) string {
	branch = strings.TrimPrefix(branch, "feature/")
	branch = strings.ReplaceAll(branch, "/", "-")
	return strings.ToLower(branch)
}

//LoadToken finds the deploy token: the given value (from --token), the
//FILESET_TOKEN environment variable, or the "token" field of .fileset.json
//in the working directory.
func LoadToken(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if token := os.Getenv("FILESET_TOKEN"); token != "" {
		return token, nil
	}

	buf, err := os.ReadFile(".fileset.json")
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("no deploy token: pass --token, set FILESET_TOKEN or create .fileset.json")
		}
		return "", err
	}
	var fileCfg struct {
		Token string `json:"token"`
	}
	err = json.Unmarshal(buf, &fileCfg)
	if err != nil {
		return "", fmt.Errorf("malformed .fileset.json: %w", err)
	}
	if fileCfg.Token == "" {
		return "", fmt.Errorf(`.fileset.json has no "token" field`)
	}
	return fileCfg.Token, nil
}

//BranchFromEnvironment checks the CI environment variables that commonly
//carry the branch name.
func BranchFromEnvironment() string {
	for _, key := range []string{"FILESET_BRANCH_NAME", "BRANCH_NAME", "CI_COMMIT_REF_NAME"} {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

//CommitFromEnvironment assembles commit metadata from CI environment
//variables and the given message.
func CommitFromEnvironment(message string) fileset.CommitInfo {
	commit := fileset.CommitInfo{Message: message}
	for _, key := range []string{"FILESET_COMMIT_SHA", "COMMIT_SHA", "CI_COMMIT_SHA"} {
		if value := os.Getenv(key); value != "" {
			commit.Sha = value
			break
		}
	}
	return commit
}
