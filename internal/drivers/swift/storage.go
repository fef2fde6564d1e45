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

package swift

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/majewsky/schwift"
	"github.com/majewsky/schwift/gopherschwift"
	"github.com/sapcc/go-bits/osext"

	"github.com/filesetd/fileset/internal/fileset"
)

func init() {
	fileset.RegisterStorageDriver("swift", newSwiftDriver)
}

//StorageDriver stores objects in an OpenStack Swift container.
type StorageDriver struct {
	Container *schwift.Container
}

func newSwiftDriver(cfg fileset.Configuration) (fileset.StorageDriver, error) {
	authURL := osext.MustGetenv("FILESET_SWIFT_AUTH_URL")
	provider, err := openstack.NewClient(authURL)
	if err != nil {
		return nil, fmt.Errorf("cannot initialize OpenStack client: %w", err)
	}

	err = openstack.Authenticate(provider, gophercloud.AuthOptions{
		IdentityEndpoint: authURL,
		AllowReauth:      true,
		Username:         osext.MustGetenv("FILESET_SWIFT_USERNAME"),
		DomainName:       osext.GetenvOrDefault("FILESET_SWIFT_USER_DOMAIN_NAME", "Default"),
		Password:         osext.MustGetenv("FILESET_SWIFT_PASSWORD"),
		Scope: &gophercloud.AuthScope{
			ProjectName: osext.MustGetenv("FILESET_SWIFT_PROJECT_NAME"),
			DomainName:  osext.GetenvOrDefault("FILESET_SWIFT_PROJECT_DOMAIN_NAME", "Default"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cannot fetch initial Keystone token: %w", err)
	}

	client, err := openstack.NewObjectStorageV1(provider, gophercloud.EndpointOpts{
		Region: os.Getenv("FILESET_SWIFT_REGION_NAME"),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot find Swift in Keystone catalog: %w", err)
	}

	account, err := gopherschwift.Wrap(client, &gopherschwift.Options{
		UserAgent: "fileset/" + fileset.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot access Swift account: %w", err)
	}

	container, err := account.Container(cfg.BlobBucket).EnsureExists()
	if err != nil {
		return nil, err
	}
	return StorageDriver{container}, nil
}

//WriteObject implements the fileset.StorageDriver interface.
func (d StorageDriver) WriteObject(key string, contents []byte, contentType string) error {
	hdr := schwift.NewObjectHeaders()
	if contentType != "" {
		hdr.ContentType().Set(contentType)
	}
	return d.Container.Object(key).Upload(bytes.NewReader(contents), nil, hdr.ToOpts())
}

//ReadObject implements the fileset.StorageDriver interface.
func (d StorageDriver) ReadObject(key string) (io.ReadCloser, error) {
	reader, err := d.Container.Object(key).Download(nil).AsReadCloser()
	if schwift.Is(err, http.StatusNotFound) {
		return nil, fileset.ErrNoSuchObject
	}
	return reader, err
}

//ObjectExists implements the fileset.StorageDriver interface.
func (d StorageDriver) ObjectExists(key string) (bool, error) {
	exists, err := d.Container.Object(key).Exists()
	if schwift.Is(err, http.StatusNotFound) {
		return false, nil
	}
	return exists, err
}
