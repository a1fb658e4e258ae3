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

package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	var s Static
	require.Equal(t, Snapshot{}, s.Snapshot())

	s.Set(Snapshot{ProxyEnabled: true, APIProxyEnabled: true})
	require.Equal(t, Snapshot{ProxyEnabled: true, APIProxyEnabled: true}, s.Snapshot())

	s.SetProxyEnabled(false)
	require.Equal(t, Snapshot{ProxyEnabled: false, APIProxyEnabled: true}, s.Snapshot())
}

func TestStaticSetProxyEnabledFromZero(t *testing.T) {
	var s Static
	s.SetProxyEnabled(true)
	require.True(t, s.Snapshot().ProxyEnabled)
	require.False(t, s.Snapshot().APIProxyEnabled)
}

func writeSettings(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestOpenFileMissing(t *testing.T) {
	f, err := OpenFile(FileConfig{Path: filepath.Join(t.TempDir(), "settings.yaml"), DisableWatch: true})
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, Snapshot{}, f.Snapshot())
}

func TestOpenFileValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettings(t, path, "proxy_enabled: true\napi_proxy_enabled: true\n")

	f, err := OpenFile(FileConfig{Path: path, DisableWatch: true})
	require.NoError(t, err)
	defer f.Close()
	require.Equal(t, Snapshot{ProxyEnabled: true, APIProxyEnabled: true}, f.Snapshot())
}

func TestOpenFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettings(t, path, "proxy_enabeld: true\n")

	_, err := OpenFile(FileConfig{Path: path, DisableWatch: true})
	require.Error(t, err)
}

func TestOpenFileRequiresPath(t *testing.T) {
	_, err := OpenFile(FileConfig{})
	require.Error(t, err)
}

func TestFileReloadKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettings(t, path, "proxy_enabled: true\n")
	f, err := OpenFile(FileConfig{Path: path, DisableWatch: true})
	require.NoError(t, err)
	defer f.Close()

	writeSettings(t, path, "proxy_enabled: [not a bool\n")
	require.Error(t, f.Reload())
	require.True(t, f.Snapshot().ProxyEnabled)

	writeSettings(t, path, "proxy_enabled: false\n")
	require.NoError(t, f.Reload())
	require.False(t, f.Snapshot().ProxyEnabled)
}

func TestFileWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettings(t, path, "proxy_enabled: false\n")
	f, err := OpenFile(FileConfig{Path: path})
	require.NoError(t, err)
	defer f.Close()
	require.False(t, f.Snapshot().ProxyEnabled)

	writeSettings(t, path, "proxy_enabled: true\n")
	require.Eventually(t, func() bool {
		return f.Snapshot().ProxyEnabled
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return !f.Snapshot().ProxyEnabled
	}, 5*time.Second, 10*time.Millisecond)
}
