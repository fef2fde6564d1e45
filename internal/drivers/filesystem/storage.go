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

package filesystem

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sapcc/go-bits/osext"

	"github.com/filesetd/fileset/internal/fileset"
)

func init() {
	fileset.RegisterStorageDriver("filesystem", func(cfg fileset.Configuration) (fileset.StorageDriver, error) {
		path, err := filepath.Abs(osext.MustGetenv("FILESET_FILESYSTEM_PATH"))
		return StorageDriver{path}, err
	})
}

//StorageDriver stores objects below a directory in the local filesystem.
//This is intended for development setups; production deployments use the
//swift or gcs drivers.
type StorageDriver struct {
	RootPath string
}

func (d StorageDriver) getObjectPath(key string) string {
	return filepath.Join(d.RootPath, filepath.FromSlash(key))
}

//WriteObject implements the fileset.StorageDriver interface.
func (d StorageDriver) WriteObject(key string, contents []byte, contentType string) error {
	path := d.getObjectPath(key)
	err := os.MkdirAll(filepath.Dir(path), 0777) //subject to umask
	if err != nil {
		return err
	}
	return os.WriteFile(path, contents, 0666) //subject to umask
}

//ReadObject implements the fileset.StorageDriver interface.
func (d StorageDriver) ReadObject(key string) (io.ReadCloser, error) {
	file, err := os.Open(d.getObjectPath(key))
	if os.IsNotExist(err) {
		return nil, fileset.ErrNoSuchObject
	}
	return file, err
}

//ObjectExists implements the fileset.StorageDriver interface.
func (d StorageDriver) ObjectExists(key string) (bool, error) {
	_, err := os.Stat(d.getObjectPath(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
