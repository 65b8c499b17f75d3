// Package atomicfile writes debug/snapshot files atomically, for the demo
// CLIs' dump-state subcommand. It plays no role in the wire protocol itself
// (spec's "Persisted state: None" still holds for Provider/Consumer).
package atomicfile

import (
	"encoding/json"
	"io/ioutil"

	"github.com/youtube/vitess/go/ioutil2"
)

// WriteJSON atomically writes v, marshaled as JSON, to path.
func WriteJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return ioutil2.WriteFileAtomic(path, b, 0644)
}

// ReadJSON reads and unmarshals a file previously written by WriteJSON.
func ReadJSON(path string, v interface{}) error {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
