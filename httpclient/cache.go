// Copyright 2025 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpclient

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// newCacheTransport serves cacheable responses from dir, going to next for the rest.
// Responses served from the cache carry the X-From-Cache header.
func newCacheTransport(dir string, next http.RoundTripper) (*httpcache.Transport, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	t := httpcache.NewTransport(diskcache.New(dir))
	t.Transport = next
	return t, nil
}

type cacheEntry struct {
	path string
	info fs.FileInfo
}

// pruneCache deletes the least recently modified files in dir until the files in it take
// at most maxSize bytes. It returns the number of bytes freed.
func pruneCache(dir string, maxSize int64) (int64, error) {
	var entries []cacheEntry
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Removed while walking.
			return nil
		}
		entries = append(entries, cacheEntry{path, info})
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan cache directory: %w", err)
	}
	if total <= maxSize {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].info.ModTime().Before(entries[j].info.ModTime())
	})
	var freed int64
	for _, entry := range entries {
		if total-freed <= maxSize {
			break
		}
		if err := os.Remove(entry.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return freed, fmt.Errorf("failed to evict cache entry: %w", err)
		}
		freed += entry.info.Size()
	}
	return freed, nil
}
