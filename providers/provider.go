// Package providers defines the reconciliation primitives a control-plane
// backend offers, one idempotent create-or-update call per resource kind.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/fundeploy/types"
)

// Primitives is the set of idempotent calls the reconciler drives.
// Calling one twice with the same logical resource converges to the same
// remote state and returns the same handle.
type Primitives interface {
	Name() string

	MakeRole(ctx context.Context, in RoleInput) (types.Handle, error)
	MakeService(ctx context.Context, in ServiceInput) (types.Handle, error)
	MakeFunction(ctx context.Context, in FunctionInput) (types.Handle, error)
	MakeTrigger(ctx context.Context, in TriggerInput) (types.Handle, error)
	MakeGroup(ctx context.Context, in GroupInput) (types.Handle, error)
	MakeApi(ctx context.Context, group types.Handle, in ApiInput) (types.Handle, error)
	MakeOtsTable(ctx context.Context, in TableInput) (types.Handle, error)
}

// RoleInput creates a role a service's functions run as
type RoleInput struct {
	RoleName    string            `json:"roleName"`
	ServiceName string            `json:"serviceName"`
	Policies    []types.PolicyRef `json:"policies,omitempty"`
}

// ServiceInput carries the service fields plus the resolved role ARN
type ServiceInput struct {
	ServiceName    string           `json:"serviceName"`
	Description    *string          `json:"description,omitempty"`
	Role           string           `json:"role"`
	InternetAccess *bool            `json:"internetAccess"`
	VpcConfig      *types.VpcConfig `json:"vpcConfig,omitempty"`
	LogConfig      types.LogConfig  `json:"logConfig"`
}

// FunctionInput carries the function fields plus the owning service handle
type FunctionInput struct {
	Service              types.Handle      `json:"service"`
	ServiceName          string            `json:"serviceName"`
	FunctionName         string            `json:"functionName"`
	Description          *string           `json:"description,omitempty"`
	Handler              string            `json:"handler"`
	Entrypoint           types.Handler     `json:"entrypoint"`
	Runtime              string            `json:"runtime"`
	CodeURI              string            `json:"codeUri"`
	MemorySize           *int32            `json:"memorySize,omitempty"`
	Timeout              *int32            `json:"timeout,omitempty"`
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty"`
}

// TriggerInput binds an event source to a realized function
type TriggerInput struct {
	Function          types.Handle   `json:"function"`
	ServiceName       string         `json:"serviceName"`
	FunctionName      string         `json:"functionName"`
	TriggerName       string         `json:"triggerName"`
	TriggerType       string         `json:"triggerType"`
	TriggerProperties map[string]any `json:"triggerProperties"`
}

// GroupInput creates an API group
type GroupInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// ApiInput binds a route to a realized function. FunctionName is the
// function handle's name, RoleArn the owning service's role.
type ApiInput struct {
	ApiName        string             `json:"apiName"`
	GroupName      string             `json:"groupName"`
	ServiceName    string             `json:"serviceName"`
	FunctionName   string             `json:"functionName"`
	Function       types.Handle       `json:"function"`
	RoleArn        string             `json:"roleArn"`
	Method         string             `json:"method"`
	RequestPath    string             `json:"requestPath"`
	Description    *string            `json:"description,omitempty"`
	Auth           types.Auth         `json:"auth"`
	Parameters     []types.Parameter  `json:"parameters,omitempty"`
	RequestConfig  map[string]any     `json:"requestConfig"`
	ResultConfig   types.ResultConfig `json:"resultConfig"`
	Visibility     *string            `json:"visibility,omitempty"`
	StageName      string             `json:"stageName"`
	ServiceTimeout int                `json:"serviceTimeout"`
}

// TableInput creates a key-value table
type TableInput struct {
	InstanceName string             `json:"instanceName"`
	TableName    string             `json:"tableName"`
	PrimaryKeys  []types.PrimaryKey `json:"primaryKeys"`
}

// Config holds backend configuration
type Config struct {
	Region   string
	Endpoint string
	// StateDir is where file-backed backends keep their state.
	StateDir string
}

// Factory creates a backend instance
type Factory func(ctx context.Context, cfg Config) (Primitives, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register makes a backend available by name
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = factory
}

// New creates a backend by name
func New(ctx context.Context, name string, cfg Config) (Primitives, error) {
	mu.RLock()
	factory, exists := registry[name]
	mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("backend %s not found (available: %v)", name, Names())
	}
	return factory(ctx, cfg)
}

// Names returns registered backend names, sorted
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
