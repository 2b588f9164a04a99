package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverbend-labs/agentcheck/pkg/agentio"
	"github.com/riverbend-labs/agentcheck/pkg/chat"
	"github.com/riverbend-labs/agentcheck/pkg/events"
	"github.com/riverbend-labs/agentcheck/pkg/history"
	"github.com/riverbend-labs/agentcheck/pkg/jobs"
	"github.com/riverbend-labs/agentcheck/pkg/model"
	"github.com/riverbend-labs/agentcheck/pkg/tools"
)

// fakeDiscovery is the smallest stand-in for pkg/discovery.Scanner that
// satisfies both api.Discovery and jobs.Discovery.
type fakeDiscovery struct {
	descriptors []model.TestDescriptor
	errText     string
}

func (f *fakeDiscovery) ListTests(context.Context) ([]model.TestDescriptor, string) {
	return f.descriptors, f.errText
}

func (f *fakeDiscovery) Reload(context.Context) error { return nil }

// fakeRunner returns a canned TestResult for every task handed to it,
// so job-lifecycle tests don't depend on a real pipeline.Runner.
type fakeRunner struct{}

func (fakeRunner) Run(_ context.Context, desc model.TestDescriptor) model.TestResult {
	return model.TestResult{QualifiedName: desc.QualifiedName, Passed: true}
}

// fakeToolProvider is a minimal agentio.ToolProvider for exercising the
// tooling routes without a real companion process.
type fakeToolProvider struct {
	schemas map[string]*agentio.ToolSchema
}

func (f *fakeToolProvider) ListTools(context.Context) ([]agentio.ToolSummary, error) {
	out := make([]agentio.ToolSummary, 0, len(f.schemas))
	for _, s := range f.schemas {
		out = append(out, agentio.ToolSummary{Name: s.Name, ParameterCount: len(s.Parameters)})
	}
	return out, nil
}

func (f *fakeToolProvider) Schema(_ context.Context, name string) (*agentio.ToolSchema, error) {
	s, ok := f.schemas[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return s, nil
}

func (f *fakeToolProvider) Invoke(_ context.Context, name string, args map[string]any) (any, error) {
	if name == "boom" {
		return nil, assertError{"tool exploded"}
	}
	return args, nil
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

// newTestServer wires a Server over fakes and a history.Store backed by
// a scratch directory, mirroring cmd/agentcheck/main.go's construction
// order without any real companion process.
func newTestServer(t *testing.T) (*Server, *fakeDiscovery) {
	t.Helper()

	disc := &fakeDiscovery{descriptors: []model.TestDescriptor{
		{QualifiedName: "pkg.mod::test_ping", Module: "pkg.mod", Name: "test_ping"},
	}}

	bus := events.NewBus()
	jobMgr := jobs.NewManager(disc, fakeRunner{}, bus, 1)
	jobMgr.Start(context.Background())
	t.Cleanup(jobMgr.Stop)

	hist, err := history.NewStore(t.TempDir())
	require.NoError(t, err)

	provider := &fakeToolProvider{schemas: map[string]*agentio.ToolSchema{
		"echo": {Name: "echo", Parameters: []agentio.ToolParameter{{Name: "count", TypeName: "int"}}},
		"boom": {Name: "boom"},
	}}
	invoker := tools.NewInvoker(provider)

	factory := func(modelName string) (agentio.StreamingAgent, error) {
		return nil, assertError{"no streaming agent configured in tests"}
	}
	relay := chat.NewRelay(factory)

	agents := []AgentSummary{{ID: "demo", Name: "Demo", Models: []string{"demo-model"}}}

	return NewServer(disc, jobMgr, bus, hist, invoker, relay, agents, nil), disc
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListTests(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/testing/tests", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var descs []model.TestDescriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &descs))
	require.Len(t, descs, 1)
	assert.Equal(t, "pkg.mod::test_ping", descs[0].QualifiedName)
}

func TestCreateRun_AllTests(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/testing/runs", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, []string{"pkg.mod::test_ping"}, job.Tests)
}

func TestCreateRun_UnknownTestFailsJob(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/testing/runs", `{"tests":["nope::nope"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var job model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, model.JobFailed, job.Status)
	assert.Contains(t, job.ErrorText, "nope::nope")
}

func TestGetRun_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/testing/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job not found", body["detail"])
}

func TestHistoryRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	empty := doJSON(t, s, http.MethodGet, "/testing/history/pkg.mod::test_ping", "")
	assert.Equal(t, http.StatusOK, empty.Code)
	assert.Equal(t, "[]", strings.TrimSpace(empty.Body.String()))

	all := doJSON(t, s, http.MethodGet, "/testing/history", "")
	assert.Equal(t, http.StatusOK, all.Code)

	deleteAll := doJSON(t, s, http.MethodDelete, "/testing/history", "")
	assert.Equal(t, http.StatusNoContent, deleteAll.Code)

	deleteOne := doJSON(t, s, http.MethodDelete, "/testing/history/pkg.mod::test_ping", "")
	assert.Equal(t, http.StatusNoContent, deleteOne.Code)

	badIndex := doJSON(t, s, http.MethodDelete, "/testing/history/pkg.mod::test_ping/0", "")
	assert.Equal(t, http.StatusNotFound, badIndex.Code)
}

func TestToolRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	list := doJSON(t, s, http.MethodGet, "/tooling/tools", "")
	assert.Equal(t, http.StatusOK, list.Code)

	schema := doJSON(t, s, http.MethodGet, "/tooling/tools/echo", "")
	assert.Equal(t, http.StatusOK, schema.Code)

	missing := doJSON(t, s, http.MethodGet, "/tooling/tools/nope", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestToolInvoke_AlwaysReturns200(t *testing.T) {
	s, _ := newTestServer(t)

	ok := doJSON(t, s, http.MethodPost, "/tooling/tools/echo/invoke", `{"args":{"count":"3"}}`)
	assert.Equal(t, http.StatusOK, ok.Code)
	var okBody map[string]any
	require.NoError(t, json.Unmarshal(ok.Body.Bytes(), &okBody))
	assert.Equal(t, true, okBody["success"])

	failing := doJSON(t, s, http.MethodPost, "/tooling/tools/boom/invoke", `{}`)
	assert.Equal(t, http.StatusOK, failing.Code, "tool-level failure still returns HTTP 200 per spec §6")
	var failBody map[string]any
	require.NoError(t, json.Unmarshal(failing.Body.Bytes(), &failBody))
	assert.Equal(t, false, failBody["success"])
	assert.Equal(t, "tool exploded", failBody["error"])
}

func TestChattingRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	agents := doJSON(t, s, http.MethodGet, "/chatting/agents", "")
	assert.Equal(t, http.StatusOK, agents.Code)

	notFound := doJSON(t, s, http.MethodGet, "/chatting/agents/missing", "")
	assert.Equal(t, http.StatusNotFound, notFound.Code)

	created := doJSON(t, s, http.MethodPost, "/chatting/conversations", `{"agent_id":"demo","model":"demo-model"}`)
	require.Equal(t, http.StatusOK, created.Code)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &conv))
	require.NotEmpty(t, conv.ID)

	get := doJSON(t, s, http.MethodGet, "/chatting/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusOK, get.Code)

	cleared := doJSON(t, s, http.MethodPost, "/chatting/conversations/"+conv.ID+"/clear", "")
	assert.Equal(t, http.StatusOK, cleared.Code)

	deleted := doJSON(t, s, http.MethodDelete, "/chatting/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusNoContent, deleted.Code)

	missingAfterDelete := doJSON(t, s, http.MethodGet, "/chatting/conversations/"+conv.ID, "")
	assert.Equal(t, http.StatusNotFound, missingAfterDelete.Code)
}

func TestCreateConversation_MissingFieldsRejected(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/chatting/conversations", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
