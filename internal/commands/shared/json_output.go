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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/eifl-dev/eifl/internal/jq"
)

// EmitJSON writes a value to stdout as indented JSON. When a --jq filter
// is set the value is round-tripped through encoding/json and the filter
// result is emitted instead.
func EmitJSON(v interface{}) error {
	return emitJSON(os.Stdout, v, GetJQ())
}

func emitJSON(w io.Writer, v interface{}, filter string) error {
	if filter != "" {
		filtered, err := applyJQ(v, filter)
		if err != nil {
			return err
		}
		v = filtered
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// applyJQ runs a jq filter over the JSON form of v. The round trip through
// encoding/json gives the filter the same field names the API emits.
func applyJQ(v interface{}, filter string) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling output for jq: %w", err)
	}

	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshaling output for jq: %w", err)
	}

	executor := jq.NewExecutor(0, 0)
	result, err := executor.Execute(context.Background(), filter, data)
	if err != nil {
		return nil, fmt.Errorf("applying jq filter: %w", err)
	}
	return result, nil
}
