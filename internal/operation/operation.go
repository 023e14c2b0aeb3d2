package operation

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/aman-churiwal/velero-api/internal/auth"
	"github.com/aman-churiwal/velero-api/internal/circuitbreaker"
	"github.com/aman-churiwal/velero-api/internal/ratelimit"
)

var (
	ErrNotFound     = errors.New("operation not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Request is what a handler sees, whether it was reached over HTTP, the bus
// or the scheduler.
type Request struct {
	Params    map[string]string
	Principal auth.Principal
}

func (r Request) Param(name string) string {
	return r.Params[name]
}

type Handler func(ctx context.Context, req Request) (interface{}, error)

// Operation is one entry of the route table.
type Operation struct {
	Method string
	// Path is the full route template, e.g. /api/v1/backups/:name.
	Path string
	// Tag and Name form the custom rate limit key CUS_<Tag>_<Name>.
	Tag                string
	Name               string
	Tier               string
	CredentialRequired bool
	Handler            Handler
}

// Response is a rendered operation result. Body is always JSON.
type Response struct {
	Status int
	Body   []byte
}

type Table struct {
	mu  sync.RWMutex
	ops map[string]*Operation
}

func NewTable() *Table {
	return &Table{ops: make(map[string]*Operation)}
}

func key(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// Add registers op. A second operation with the same method and path is an error.
func (t *Table) Add(op Operation) error {
	if op.Path == "" || op.Handler == nil {
		return errors.Errorf("operation %q needs a path and a handler", op.Name)
	}
	if op.Method == "" {
		op.Method = http.MethodGet
	}
	if op.Tier == "" {
		op.Tier = ratelimit.DefaultTier
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	k := key(op.Method, op.Path)
	if _, exists := t.ops[k]; exists {
		return errors.Errorf("duplicate operation %s", k)
	}
	t.ops[k] = &op
	return nil
}

// Operations returns every registered operation ordered by path.
func (t *Table) Operations() []Operation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Operation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Lookup finds an operation by exact method and path. A path that matches a
// template segment by segment (":name" segments capture) is accepted too; the
// captured values are returned as params.
func (t *Table) Lookup(method, path string) (*Operation, map[string]string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if op, ok := t.ops[key(method, path)]; ok {
		return op, map[string]string{}, true
	}

	method = strings.ToUpper(method)
	for _, op := range t.ops {
		if op.Method != method {
			continue
		}
		if params, ok := matchTemplate(op.Path, path); ok {
			return op, params, true
		}
	}
	return nil, nil, false
}

func matchTemplate(template, path string) (map[string]string, bool) {
	want := strings.Split(strings.Trim(template, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return nil, false
	}

	params := make(map[string]string)
	for i, segment := range want {
		if strings.HasPrefix(segment, ":") {
			if got[i] == "" {
				return nil, false
			}
			params[segment[1:]] = got[i]
			continue
		}
		if segment != got[i] {
			return nil, false
		}
	}
	return params, true
}

// Dispatch looks the operation up and invokes it. Params captured from the
// path override supplied ones.
func (t *Table) Dispatch(ctx context.Context, method, path string, params map[string]string, principal auth.Principal) (Response, error) {
	op, captured, ok := t.Lookup(method, path)
	if !ok {
		return Response{}, errors.Wrapf(ErrNotFound, "%s %s", strings.ToUpper(method), path)
	}

	merged := make(map[string]string, len(params)+len(captured))
	for k, v := range params {
		merged[k] = v
	}
	for k, v := range captured {
		merged[k] = v
	}
	return op.Invoke(ctx, Request{Params: merged, Principal: principal}), nil
}

// Invoke runs the handler and renders its result. Handler errors become an
// error body with the status from StatusFor.
func (op *Operation) Invoke(ctx context.Context, req Request) Response {
	if op.CredentialRequired && !req.Principal.Authenticated() {
		return errorResponse(ErrUnauthorized)
	}

	result, err := op.Handler(ctx, req)
	if err != nil {
		return errorResponse(err)
	}

	body, err := json.Marshal(result)
	if err != nil {
		return errorResponse(errors.Wrap(err, "error encoding response"))
	}
	return Response{Status: http.StatusOK, Body: body}
}

func errorResponse(err error) Response {
	return Response{Status: StatusFor(err), Body: ErrorBody(err.Error())}
}

// ErrorBody renders the error payload used for every failed operation.
func ErrorBody(message string) []byte {
	body, _ := json.Marshal(map[string]string{"error": message})
	return body
}

func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound), apierrors.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
