package logsvc

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"github.com/trezcool/edutracker/tests"
)

func TestRollbarLogger_prepare(t *testing.T) {
	l := newWithWriter(new(bytes.Buffer), "TEST", testutil.Config())
	err := errors.New("boom")

	tests := []struct {
		name string
		args []interface{}
		want []interface{}
	}{
		{name: "message only", want: []interface{}{"msg"}},
		{name: "error", args: []interface{}{err}, want: []interface{}{"msg", err}},
		{
			name: "extras merged",
			args: []interface{}{map[string]interface{}{"a": 1}, err, map[string]interface{}{"b": 2}},
			want: []interface{}{"msg", err, map[string]interface{}{"a": 1, "b": 2}},
		},
		{
			name: "unknown args",
			args: []interface{}{42, nil},
			want: []interface{}{"msg", map[string]interface{}{"args": []interface{}{42}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := l.prepare("msg", tt.args); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("prepare() = %v; want %v", got, tt.want)
			}
		})
	}
}

func TestRollbarLogger_print(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, "SYNC", testutil.Config())

	l.Warn("poll failed", errors.New("timeout"), map[string]interface{}{"gen": 2})

	out := buf.String()
	for _, want := range []string{"SYNC : ", "WARN poll failed", "timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
	if strings.Contains(out, "map[") {
		t.Errorf("extras should not be printed: %q", out)
	}
}
