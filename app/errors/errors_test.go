package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	t.Parallel()

	notFound := errors.New("interface with name 'wg9' doesn't exist")

	tests := []struct {
		name     string
		err      error
		expAttrs map[string]any
		expOrder []string
	}{
		{
			name:     "ok/plain",
			err:      errors.New("boom"),
			expAttrs: map[string]any{"msg": "boom"},
		},
		{
			name: "ok/runtime_error",
			err:  NewRuntimeError("wgfence is not initialized", nil, "run 'wgfence init' first"),
			expAttrs: map[string]any{
				"msg":  "wgfence is not initialized",
				"hint": "run 'wgfence init' first",
			},
		},
		{
			name: "ok/cause_and_metadata",
			err:  NewWithCause("failed syncing ACL", notFound, "interface", "wg9", "feature", "acl"),
			expAttrs: map[string]any{
				"msg":       "failed syncing ACL",
				"cause":     notFound.Error(),
				"feature":   "acl",
				"interface": "wg9",
			},
			expOrder: []string{"cause", "feature", "interface"},
		},
		{
			name: "ok/inherited_metadata",
			err: NewRuntimeError("failed applying rules of wg0",
				NewWithCause("failed running script", notFound, "path", "/etc/wireguard/wg0-acl-setup.sh"),
				"check the nftables service"),
			expAttrs: map[string]any{
				"msg":   "failed applying rules of wg0",
				"cause": "failed running script",
				"path":  "/etc/wireguard/wg0-acl-setup.sh",
				"hint":  "check the nftables service",
			},
			expOrder: []string{"cause", "path", "hint"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
						return slog.Attr{}
					}
					return a
				},
			}))
			Log(logger, tt.err)

			var got map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
			assert.Equal(t, tt.expAttrs, got)

			line := buf.String()
			last := -1
			for _, key := range tt.expOrder {
				idx := strings.Index(line, `"`+key+`":`)
				require.Greater(t, idx, last, key)
				last = idx
			}
		})
	}
}

func TestStructuredError(t *testing.T) {
	t.Parallel()

	cause := errors.New("permission denied")
	err := NewRuntimeError("failed writing configuration file", cause, "")

	assert.EqualError(t, err, "failed writing configuration file")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Cause())
	assert.Equal(t, "", err.Hint())
	assert.Empty(t, err.Metadata())

	serr := NewWithCause("x", nil, "k", "v")
	meta := serr.Metadata()
	meta["k"] = "changed"
	assert.Equal(t, "v", serr.Metadata()["k"])

	assert.Panics(t, func() { NewWithCause("x", nil, "odd") })
	assert.Panics(t, func() { NewWithCause("x", nil, 1, "v") })
}
