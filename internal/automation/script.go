//go:build !no_automation

package automation

import (
	"encoding/json"
	"strings"
)

// headerPrefix starts the metadata line of a script file.
const headerPrefix = "-- "

// ScriptMeta holds user-editable metadata for a script.
type ScriptMeta struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Script is one automation script stored on disk as <id>.lua. The first line
// may carry the metadata as a JSON comment: -- {"name": "...", "enabled": true}
type Script struct {
	ID       string     `json:"id"`
	Meta     ScriptMeta `json:"meta"`
	LuaCode  string     `json:"lua_code"`
	FilePath string     `json:"-"`

	hasMeta bool
}

// Enabled reports whether the script should run. A file without a header is
// plain Lua dropped into the directory and runs; a file with a header runs
// only when the header says so.
func (s *Script) Enabled() bool {
	if !s.hasMeta {
		return true
	}
	return s.Meta.Enabled
}

// splitHeader separates the metadata line from the Lua body. ok is false when
// the file has no header line at all; err reports a header that is present
// but not valid JSON.
func splitHeader(content string) (meta ScriptMeta, body string, ok bool, err error) {
	first, rest, _ := strings.Cut(content, "\n")
	if !strings.HasPrefix(first, headerPrefix+"{") {
		return meta, content, false, nil
	}
	err = json.Unmarshal([]byte(strings.TrimPrefix(first, headerPrefix)), &meta)
	if err != nil {
		meta = ScriptMeta{}
	}
	return meta, strings.TrimLeft(rest, "\n"), true, err
}

// serializeScript renders the on-disk form: header, blank line, body.
func serializeScript(s *Script) string {
	meta, _ := json.Marshal(s.Meta)

	var b strings.Builder
	b.WriteString(headerPrefix)
	b.Write(meta)
	b.WriteByte('\n')
	if s.LuaCode == "" {
		return b.String()
	}
	b.WriteByte('\n')
	b.WriteString(s.LuaCode)
	if !strings.HasSuffix(s.LuaCode, "\n") {
		b.WriteByte('\n')
	}
	return b.String()
}
