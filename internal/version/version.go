// Copyright 2025 The strex Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package version reports the module version for diagnostics and User-Agent strings.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version is the fallback version when build info is unavailable.
const Version = "0.1.0"

var resolveOnce = sync.OnceValue(func() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
})

// String returns the resolved module version.
func String() string { return resolveOnce() }

// UserAgent returns the User-Agent value sent to a provider, tagged with the component name.
func UserAgent(component string) string {
	return fmt.Sprintf("strex/%s (%s; %s/%s)", String(), component, runtime.GOOS, runtime.GOARCH)
}
