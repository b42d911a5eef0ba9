// Package fake is an in-memory Primitives implementation that records every
// call. Tests use it to observe what the reconciler issues.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

// Name is the backend name
const Name = "fake"

// Call is one recorded primitive call
type Call struct {
	Kind  types.Kind
	Key   string
	Group types.Handle
	Input any
}

// Hook runs before a call returns. A non-nil error becomes the call's result.
type Hook func(ctx context.Context, call Call) error

// Primitives records calls and returns deterministic handles
type Primitives struct {
	mu       sync.Mutex
	calls    []Call
	failures map[string][]error
	hook     Hook
}

// New creates an empty recorder
func New() *Primitives {
	return &Primitives{failures: make(map[string][]error)}
}

// Fail queues errors for successive calls on kind/key. Once the queue is
// drained, calls succeed.
func (p *Primitives) Fail(kind types.Kind, key string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := string(kind) + ":" + key
	p.failures[k] = append(p.failures[k], errs...)
}

// OnCall installs a hook run for every call
func (p *Primitives) OnCall(h Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = h
}

// Calls returns a copy of the recorded calls in issue order
func (p *Primitives) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallsOf returns recorded calls of one kind
func (p *Primitives) CallsOf(kind types.Kind) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Keys returns "Kind:key" for every recorded call, in issue order
func (p *Primitives) Keys() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = string(c.Kind) + ":" + c.Key
	}
	return out
}

// Reset forgets recorded calls and queued failures
func (p *Primitives) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
	p.failures = make(map[string][]error)
}

func (p *Primitives) Name() string { return Name }

func (p *Primitives) MakeRole(ctx context.Context, in providers.RoleInput) (types.Handle, error) {
	return p.record(ctx, Call{Kind: types.KindRole, Key: in.RoleName, Input: in}, in.RoleName)
}

func (p *Primitives) MakeService(ctx context.Context, in providers.ServiceInput) (types.Handle, error) {
	h, err := p.record(ctx, Call{Kind: types.KindService, Key: in.ServiceName, Input: in}, in.ServiceName)
	if err == nil {
		h.Attributes = map[string]string{"role": in.Role}
	}
	return h, err
}

func (p *Primitives) MakeFunction(ctx context.Context, in providers.FunctionInput) (types.Handle, error) {
	key := types.FunctionID(in.ServiceName, in.FunctionName)
	return p.record(ctx, Call{Kind: types.KindFunction, Key: key, Input: in}, in.FunctionName)
}

func (p *Primitives) MakeTrigger(ctx context.Context, in providers.TriggerInput) (types.Handle, error) {
	key := types.TriggerID(in.ServiceName, in.FunctionName, in.TriggerName)
	return p.record(ctx, Call{Kind: types.KindTrigger, Key: key, Input: in}, in.TriggerName)
}

func (p *Primitives) MakeGroup(ctx context.Context, in providers.GroupInput) (types.Handle, error) {
	return p.record(ctx, Call{Kind: types.KindGroup, Key: in.Name, Input: in}, in.Name)
}

func (p *Primitives) MakeApi(ctx context.Context, group types.Handle, in providers.ApiInput) (types.Handle, error) {
	return p.record(ctx, Call{Kind: types.KindApi, Key: in.ApiName, Group: group, Input: in}, in.ApiName)
}

func (p *Primitives) MakeOtsTable(ctx context.Context, in providers.TableInput) (types.Handle, error) {
	key := in.InstanceName + "/" + in.TableName
	return p.record(ctx, Call{Kind: types.KindTable, Key: key, Input: in}, in.TableName)
}

func (p *Primitives) record(ctx context.Context, call Call, name string) (types.Handle, error) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	hook := p.hook
	var queued error
	k := string(call.Kind) + ":" + call.Key
	if errs := p.failures[k]; len(errs) > 0 {
		queued = errs[0]
		p.failures[k] = errs[1:]
	}
	p.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return types.Handle{}, err
		}
	}
	if queued != nil {
		return types.Handle{}, queued
	}
	return types.Handle{
		Kind: call.Kind,
		Name: name,
		ID:   "fake-" + call.Key,
		ARN:  fmt.Sprintf("arn:fake:%s/%s", call.Kind, call.Key),
	}, nil
}

var _ providers.Primitives = (*Primitives)(nil)
