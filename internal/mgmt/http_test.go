package mgmt

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ted-ross/qpid-spf/internal/queue"
)

func TestJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	jsonResponse(rr, map[string]string{"ok": "yes"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ok": "yes"`) {
		t.Fatalf("unexpected json body: %s", rr.Body.String())
	}
}

func TestHandleSessionsAndQueues(t *testing.T) {
	agent := NewAgent(nil, nil)
	agent.RegisterSession("s1")
	agent.RegisterQueue("q1", queue.QueueSettings{MaxCount: 10})

	rr := httptest.NewRecorder()
	handleSessions(agent)(rr, httptest.NewRequest(http.MethodGet, "/admin/sessions", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"s1"`) {
		t.Fatalf("unexpected sessions response: %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	handleQueues(agent)(rr, httptest.NewRequest(http.MethodGet, "/admin/queues", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"q1"`) {
		t.Fatalf("unexpected queues response: %d %s", rr.Code, rr.Body.String())
	}
}
