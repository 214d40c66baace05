// Package transport defines the push/pull wire protocol and the
// interfaces the sync engine calls to execute it, plus default net/http
// implementations.
package transport

import (
	"context"
	"encoding/json"
	"strconv"
)

// MutationWire is one mutation as carried on the wire: id, name, and its
// originally-supplied JSON arguments.
type MutationWire struct {
	ID   uint64         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// PushRequest is the push request body.
type PushRequest struct {
	ClientID      string         `json:"clientID"`
	Mutations     []MutationWire `json:"mutations"`
	PushVersion   int            `json:"pushVersion"`
	SchemaVersion string         `json:"schemaVersion"`
}

// MutationInfo reports the server's advisory outcome for one pushed
// mutation. Error is empty on success.
type MutationInfo struct {
	ID    uint64 `json:"id"`
	Error string `json:"error"`
}

// PushResponse is the push response body.
type PushResponse struct {
	MutationInfos []MutationInfo `json:"mutationInfos"`
}

// PatchOpWire mirrors store.PatchOp on the wire.
type PatchOpWire struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

// PullRequest is the pull request body.
type PullRequest struct {
	ClientID       string          `json:"clientID"`
	BaseStateID    string          `json:"baseStateID"`
	Cookie         json.RawMessage `json:"cookie"`
	LastMutationID uint64          `json:"lastMutationID"`
	PullVersion    int             `json:"pullVersion"`
	SchemaVersion  string          `json:"schemaVersion"`
}

// PullResponse is the pull response body.
type PullResponse struct {
	Cookie         json.RawMessage `json:"cookie"`
	LastMutationID uint64          `json:"lastMutationID"`
	Patch          []PatchOpWire   `json:"patch"`
}

// HTTPError is returned by a Puller/Pusher for any non-2xx, non-401
// response; 401 is handled internally by reauthenticating and retrying.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string { return "transport: http status " + strconv.Itoa(e.Status) }

// Unauthorized reports an HTTP 401, distinguished so the sync engine can
// invoke its auth-refresh callback and retry rather than treating it as
// an ordinary failure.
type Unauthorized struct{}

func (Unauthorized) Error() string { return "transport: unauthorized" }

// Pusher executes one push call.
type Pusher interface {
	Push(ctx context.Context, req PushRequest, auth string) (PushResponse, error)
}

// Puller executes one pull call.
type Puller interface {
	Pull(ctx context.Context, req PullRequest, auth string) (PullResponse, error)
}
