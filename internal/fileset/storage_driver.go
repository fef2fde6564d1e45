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
	"errors"
	"fmt"
	"io"
)

//StorageDriver is the abstract interface for the object store where file
//contents are stored. Key layout is chosen by the caller (the blob store uses
//"blobs/<sha>"); drivers only move bytes.
type StorageDriver interface {
	//WriteObject creates or overwrites the object at `key`.
	WriteObject(key string, contents []byte, contentType string) error
	//ReadObject returns a reader for the object's contents, or
	//ErrNoSuchObject.
	ReadObject(key string) (io.ReadCloser, error)
	//ObjectExists only reports errors when the check itself failed.
	ObjectExists(key string) (bool, error)
}

//ErrNoSuchObject is returned by StorageDriver.ReadObject for missing objects.
var ErrNoSuchObject = errors.New("no such object")

var storageDriverFactories = make(map[string]func(Configuration) (StorageDriver, error))

//NewStorageDriver creates a new StorageDriver using one of the factories
//registered by RegisterStorageDriver().
func NewStorageDriver(name string, cfg Configuration) (StorageDriver, error) {
	factory := storageDriverFactories[name]
	if factory != nil {
		return factory(cfg)
	}
	return nil, fmt.Errorf("no such storage driver: %q", name)
}

//RegisterStorageDriver registers a StorageDriver. Call this from func init()
//of the package defining the driver.
func RegisterStorageDriver(name string, factory func(Configuration) (StorageDriver, error)) {
	if _, exists := storageDriverFactories[name]; exists {
		panic("attempted to register multiple storage drivers with name = " + name)
	}
	storageDriverFactories[name] = factory
}
