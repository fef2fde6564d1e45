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

package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/filesetd/fileset/internal/fileset"
)

func init() {
	fileset.RegisterStorageDriver("gcs", newGCSDriver)
}

//StorageDriver stores objects in a Google Cloud Storage bucket. Credentials
//come from the environment (application default credentials), or from the
//service account key file named by FILESET_GCS_CREDENTIALS.
type StorageDriver struct {
	Bucket *storage.BucketHandle
}

func newGCSDriver(cfg fileset.Configuration) (fileset.StorageDriver, error) {
	var opts []option.ClientOption
	if path := os.Getenv("FILESET_GCS_CREDENTIALS"); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot initialize GCS client: %w", err)
	}
	return StorageDriver{client.Bucket(cfg.BlobBucket)}, nil
}

//WriteObject implements the fileset.StorageDriver interface.
func (d StorageDriver) WriteObject(key string, contents []byte, contentType string) error {
	ctx := context.Background()
	writer := d.Bucket.Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	_, err := io.Copy(writer, bytes.NewReader(contents))
	if err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

//ReadObject implements the fileset.StorageDriver interface.
func (d StorageDriver) ReadObject(key string) (io.ReadCloser, error) {
	reader, err := d.Bucket.Object(key).NewReader(context.Background())
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fileset.ErrNoSuchObject
	}
	return reader, err
}

//ObjectExists implements the fileset.StorageDriver interface.
func (d StorageDriver) ObjectExists(key string) (bool, error) {
	_, err := d.Bucket.Object(key).Attrs(context.Background())
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, err
}
