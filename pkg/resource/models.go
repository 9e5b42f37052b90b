// Package resource holds the pipeline resource protocol: the JSON requests
// read from stdin and the responses written to stdout.
package resource

import "encoding/json"

// OutRequest is the put step request.
type OutRequest struct {
	Source json.RawMessage `json:"source"`
	Params json.RawMessage `json:"params,omitempty"`
}

// InRequest is the get step request.
type InRequest struct {
	Source  json.RawMessage `json:"source"`
	Version Version         `json:"version"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// CheckRequest is the check request. Version is absent on the first check.
type CheckRequest struct {
	Source  json.RawMessage `json:"source"`
	Version *Version        `json:"version,omitempty"`
}

// Response is returned by both put and get.
type Response struct {
	Version  Version  `json:"version"`
	Metadata Metadata `json:"metadata"`
}

// Version identifies one put.
type Version struct {
	Timestamp string `json:"timestamp"`
}

// MetadataPair is one name/value entry shown in the pipeline UI.
type MetadataPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Metadata is an ordered list of pairs.
type Metadata []MetadataPair

// Get returns the value of the first pair called name.
func (m Metadata) Get(name string) (string, bool) {
	for _, p := range m {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
