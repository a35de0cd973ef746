package pipeline

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/cutting-params/internal/llm"
	"github.com/sells-group/cutting-params/internal/model"
	"github.com/sells-group/cutting-params/internal/resolve"
)

func phase(p string) any {
	return mock.MatchedBy(func(r llm.Request) bool { return r.Phase == p })
}

func phaseAbout(p, text string) any {
	return mock.MatchedBy(func(r llm.Request) bool { return r.Phase == p && strings.Contains(r.User, text) })
}

func metered(text string) *llm.Response {
	return &llm.Response{Text: text, Model: "mock", Usage: model.Usage{Calls: 1, InputTokens: 10, OutputTokens: 5}}
}

type mapDocs map[string]string

func (m mapDocs) ReadDoc(path string) (string, error) {
	doc, ok := m[path]
	if !ok {
		return "", fs.ErrNotExist
	}
	return doc, nil
}

type fakeTools struct {
	refs  []string
	err   error
	calls int
}

func (f *fakeTools) Retrieve(context.Context, string) ([]string, error) {
	f.calls++
	return f.refs, f.err
}

func materials() *resolve.Resolver {
	return resolve.New(&model.AliasTable{Entries: []model.AliasEntry{
		{CanonicalID: "1.4125", Aliases: []string{"X105CrMo17", "440C"}, DocPath: "metals/1.4125.md"},
		{CanonicalID: "TI-64", Aliases: []string{"Ti6Al4V", "Grade 5 titanium"}, DocPath: "metals/ti64.md"},
		{CanonicalID: "CCR-1150", Aliases: []string{"CCR1150"}, DocPath: "metals/missing.md"},
	}}, 80)
}

const (
	completeCheck   = `{"judge": "yes", "tool": "D10", "metal": "1.4125", "operation": "turning", "questioned_parameters": "cutting speed"}`
	incompleteCheck = `{"judge": "no", "tool": "None", "metal": "1.4125", "operation": "turning", "questioned_parameters": "cutting speed"}`
	relevantJSON    = `{"thought": "D10 turning speeds", "judge": "relevant"}`
	notRelevantJSON = `{"thought": "milling only", "judge": "not relevant"}`
)

var errUpstream = errors.New("upstream unavailable")

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
