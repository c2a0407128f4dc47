// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package shared

// Global flag values, bound by the root command.
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	jqFlag      string
	serverFlag  string
	configFlag  string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// GlobalFlags exposes the persistent flag variables for binding. The root
// command registers them; every command reads them through the getters.
type GlobalFlags struct {
	Verbose *bool
	Quiet   *bool
	JSON    *bool
	JQ      *string
	Server  *string
	Config  *string
}

// RegisterFlagPointers returns pointers to the global flag variables.
func RegisterFlagPointers() GlobalFlags {
	return GlobalFlags{
		Verbose: &verboseFlag,
		Quiet:   &quietFlag,
		JSON:    &jsonFlag,
		JQ:      &jqFlag,
		Server:  &serverFlag,
		Config:  &configFlag,
	}
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetVerbose returns the verbose flag value.
func GetVerbose() bool {
	return verboseFlag
}

// GetQuiet returns the quiet flag value.
func GetQuiet() bool {
	return quietFlag
}

// GetJSON reports whether output should be JSON. A --jq filter implies
// JSON output.
func GetJSON() bool {
	return jsonFlag || jqFlag != ""
}

// GetJQ returns the jq filter applied to JSON output.
func GetJQ() string {
	return jqFlag
}

// GetServer returns the --server flag value.
func GetServer() string {
	return serverFlag
}

// GetConfigPath returns the config file path override.
func GetConfigPath() string {
	return configFlag
}

// SetServerForTest overrides the server flag in tests.
func SetServerForTest(url string) {
	serverFlag = url
}

// SetJQForTest overrides the jq filter in tests.
func SetJQForTest(filter string) {
	jqFlag = filter
}
