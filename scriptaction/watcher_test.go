// SPDX-License-Identifier: LGPL-3.0-or-later

package scriptaction

import "testing"

func TestPluginNameFromPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/plugins/demo.so", "demo"},
		{"relative/path/thing.so", "thing"},
		{"noext", "noext"},
	}

	for _, tt := range tests {
		if got := pluginNameFromPath(tt.path); got != tt.want {
			t.Errorf("pluginNameFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
