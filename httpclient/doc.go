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
Package httpclient builds the single HTTP client an application shares across all of its
network-issuing components.

A [Builder] is run once at startup. It reads the current settings, configures the
process-wide [proxyselector.Selector], bootstraps the optional local proxy and assembles
an [net/http.Client] with a disk response cache, a tuned socket dialer, a cookie jar,
connection pooling, a transparent retry of failed connections and an ordered chain of
[Interceptor] values. The result is a [Transport], which is then handed to every consumer:

	cfg := httpclient.DefaultConfig(filepath.Join(cacheRoot, "imgCache"))
	t, err := (&httpclient.Builder{Config: cfg, Settings: provider}).Build()
	if err != nil {
		return err
	}
	defer t.Close()
	body, err := t.Fetch(ctx, "https://example.com/image.jpg")

Interceptors are plain functions wrapping an [net/http.RoundTripper]. They observe or
decorate calls but must hand back the response and error of the wrapped call.
*/
package httpclient
