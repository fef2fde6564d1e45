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

package inmemory

import (
	"bytes"
	"io"
	"sync"

	"github.com/filesetd/fileset/internal/fileset"
)

func init() {
	fileset.RegisterStorageDriver("in-memory-for-testing", func(cfg fileset.Configuration) (fileset.StorageDriver, error) {
		return &StorageDriver{objects: make(map[string]object)}, nil
	})
}

type object struct {
	Contents    []byte
	ContentType string
}

//StorageDriver stores objects in RAM only, to speed up the unit tests.
type StorageDriver struct {
	mutex   sync.RWMutex
	objects map[string]object
}

//WriteObject implements the fileset.StorageDriver interface.
func (d *StorageDriver) WriteObject(key string, contents []byte, contentType string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.objects[key] = object{append([]byte(nil), contents...), contentType}
	return nil
}

//ReadObject implements the fileset.StorageDriver interface.
func (d *StorageDriver) ReadObject(key string) (io.ReadCloser, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	obj, exists := d.objects[key]
	if !exists {
		return nil, fileset.ErrNoSuchObject
	}
	return io.NopCloser(bytes.NewReader(obj.Contents)), nil
}

//ObjectExists implements the fileset.StorageDriver interface.
func (d *StorageDriver) ObjectExists(key string) (bool, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	_, exists := d.objects[key]
	return exists, nil
}

//ObjectCount is used by tests to check that no unexpected uploads happened.
func (d *StorageDriver) ObjectCount() int {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return len(d.objects)
}

//ForgetObject is used by tests to simulate storage inconsistencies.
func (d *StorageDriver) ForgetObject(key string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.objects, key)
}
