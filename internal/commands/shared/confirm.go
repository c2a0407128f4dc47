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

import (
	"github.com/AlecAivazis/survey/v2"
)

// Confirm prompts before a destructive action. assumeYes (the --yes flag)
// skips the prompt. In non-interactive contexts without --yes the action
// is refused rather than silently approved.
func Confirm(message string, assumeYes bool) (bool, error) {
	if assumeYes {
		return true, nil
	}
	if IsNonInteractive() {
		return false, NewUsageError("confirmation required in non-interactive mode (pass --yes)", nil)
	}

	confirmed := false
	prompt := &survey.Confirm{
		Message: message,
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false, err
	}
	return confirmed, nil
}
