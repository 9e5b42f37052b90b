package main

import (
	"reflect"
	"testing"
)

func TestVerbArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"out", []string{"/tmp/build"}, []string{"out", "/tmp/build"}},
		{"in", []string{"/tmp/get"}, []string{"in", "/tmp/get"}},
		{"check", nil, []string{"check"}},
		{"playbook-resource", []string{"version"}, []string{"version"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := verbArgs(tt.name, tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("verbArgs(%q, %v) = %v, want %v", tt.name, tt.args, got, tt.want)
			}
		})
	}
}
