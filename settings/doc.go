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

/*
Package settings exposes the user and runtime preferences that steer the HTTP transport.

Consumers read a [Snapshot] from a [Provider] at the moment they need a decision and never
hold on to it, so a preference change takes effect on the very next request:

	snapshot := provider.Snapshot()
	if snapshot.ProxyEnabled {
		// route through the local proxy
	}

[Static] is an in-memory provider that embedding applications update directly. [File]
reads a YAML document and reloads it whenever the file changes on disk.
*/
package settings
