package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateObjectKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr string
	}{
		{name: "valid key", key: "messages/u1/2026/10/18/abc.png"},
		{name: "single segment", key: "abc.png"},
		{name: "empty", key: "", wantErr: "cannot be empty"},
		{name: "absolute", key: "/etc/passwd", wantErr: "absolute object keys not allowed"},
		{name: "traversal", key: "messages/../../secret", wantErr: "directory traversal"},
		{name: "dot segment", key: "messages/./a.png", wantErr: "directory traversal"},
		{name: "empty segment", key: "messages//a.png", wantErr: "directory traversal"},
		{name: "trailing slash", key: "messages/", wantErr: "directory traversal"},
		{name: "backslash", key: `messages\a.png`, wantErr: "backslash"},
		{name: "control character", key: "messages/a\n.png", wantErr: "control characters"},
		{name: "too long", key: strings.Repeat("a", maxObjectKeyLength+1), wantErr: "longer than"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateObjectKey(tt.key)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestKeySegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user-42", "user-42"},
		{"auth0|5f2b", "auth0_5f2b"},
		{"../../etc", "_.._etc"},
		{"..", "_"},
		{"", "_"},
		{"naïve", "na_ve"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := KeySegment(tt.in)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, ValidateObjectKey("messages/"+got+"/a.png"))
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{"config.json", false},
		{"./configs/prod.json", false},
		{"/etc/ringrelay/config.json", false},
		{"", true},
		{"../config.json", true},
		{"configs/../../secret.json", true},
		{"config\x00.json", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
