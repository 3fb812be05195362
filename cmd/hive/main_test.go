package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMCPAction(t *testing.T) {
	tests := []struct {
		name       string
		spec       string
		wantName   string
		wantAction string
		wantErr    bool
	}{
		{name: "restart", spec: "docs:restart", wantName: "docs", wantAction: "restart"},
		{name: "start", spec: "search:start", wantName: "search", wantAction: "start"},
		{name: "stop", spec: "search:stop", wantName: "search", wantAction: "stop"},
		{name: "missing separator", spec: "docs", wantErr: true},
		{name: "empty name", spec: ":restart", wantErr: true},
		{name: "empty action", spec: "docs:", wantErr: true},
		{name: "unknown action", spec: "docs:reload", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, action, err := parseMCPAction(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}
