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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInputsCoercesJSONValues(t *testing.T) {
	inputs, err := ParseInputs([]string{
		"name=alice",
		"count=3",
		"ratio=0.5",
		"enabled=true",
		"tags=[\"a\",\"b\"]",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "alice", inputs["name"])
	assert.Equal(t, float64(3), inputs["count"])
	assert.Equal(t, 0.5, inputs["ratio"])
	assert.Equal(t, true, inputs["enabled"])
	assert.Equal(t, []any{"a", "b"}, inputs["tags"])
}

func TestParseInputsRejectsMalformedPair(t *testing.T) {
	_, err := ParseInputs([]string{"no-equals-sign"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected key=value")
}

func TestParseInputsFlagOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"env": "staging", "region": "eu"}`), 0o644))

	inputs, err := ParseInputs([]string{"env=prod"}, path)
	require.NoError(t, err)

	assert.Equal(t, "prod", inputs["env"])
	assert.Equal(t, "eu", inputs["region"])
}

func TestParseInputsEmptyIsNil(t *testing.T) {
	inputs, err := ParseInputs(nil, "")
	require.NoError(t, err)
	assert.Nil(t, inputs)
}
