package types

import (
	"fmt"
	"strings"
)

// Spec is the kind-specific payload of a Resource. Only types in this package implement it.
type Spec interface {
	Kind() Kind
	sealed()
}

// Resource is one node of the normalized template graph
type Resource struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   Kind   `json:"kind"`
	Parent string `json:"parent,omitempty"`
	// Order is the declaration position, used to break ties between independent resources.
	Order int  `json:"order"`
	Spec  Spec `json:"spec"`
}

// RoleSpec describes a role created on demand for a service
type RoleSpec struct {
	RoleName    string      `json:"roleName"`
	ServiceName string      `json:"serviceName"`
	Policies    []PolicyRef `json:"policies,omitempty"`
}

// PolicyRef is either a named managed policy or an inline policy document
type PolicyRef struct {
	Name     string          `json:"name,omitempty"`
	Document *PolicyDocument `json:"document,omitempty"`
}

// PolicyDocument is an inline role policy
type PolicyDocument struct {
	Version   string      `json:"Version,omitempty"`
	Statement []Statement `json:"Statement"`
}

// Statement is one policy statement
type Statement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource []string `json:"Resource,omitempty"`
}

// ServiceSpec groups functions under a shared role, network and log configuration
type ServiceSpec struct {
	ServiceName string  `json:"serviceName"`
	Description *string `json:"description,omitempty"`
	// RoleARN is set when the template names an existing role.
	RoleARN string `json:"roleArn,omitempty"`
	// RoleID points at the generated Role resource otherwise.
	RoleID string `json:"roleId,omitempty"`
	// InternetAccess is explicitly null when the template leaves it out.
	InternetAccess *bool      `json:"internetAccess"`
	VpcConfig      *VpcConfig `json:"vpcConfig,omitempty"`
	LogConfig      LogConfig  `json:"logConfig"`
}

// VpcConfig attaches a service to a private network
type VpcConfig struct {
	VpcID           string   `json:"vpcId"`
	VSwitchIDs      []string `json:"vSwitchIds"`
	SecurityGroupID string   `json:"securityGroupId"`
}

// LogConfig names the log destination of a service. The zero value means "no logging".
type LogConfig struct {
	Project  string `json:"project,omitempty"`
	Logstore string `json:"logstore,omitempty"`
}

// Enabled reports whether both log fields are set
func (l LogConfig) Enabled() bool {
	return l.Project != "" && l.Logstore != ""
}

// FunctionSpec is a function owned by a service
type FunctionSpec struct {
	ServiceName          string            `json:"serviceName"`
	FunctionName         string            `json:"functionName"`
	Description          *string           `json:"description,omitempty"`
	Handler              string            `json:"handler"`
	Entrypoint           Handler           `json:"entrypoint"`
	Runtime              string            `json:"runtime"`
	CodeURI              string            `json:"codeUri"`
	MemorySize           *int32            `json:"memorySize,omitempty"`
	Timeout              *int32            `json:"timeout,omitempty"`
	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty"`
}

// Handler is the parsed form of a "module.entrypoint" handler string
type Handler struct {
	Module     string `json:"module"`
	Entrypoint string `json:"entrypoint"`
}

// ParseHandler splits a handler string. Java runtimes use "pkg.Class::method",
// everything else "module.entrypoint" split on the last dot.
func ParseHandler(runtime, handler string) (Handler, error) {
	if handler == "" || strings.ContainsAny(handler, " \t\n") {
		return Handler{}, fmt.Errorf("handler %q is not of the form module.entrypoint", handler)
	}
	if strings.HasPrefix(runtime, "java") && strings.Contains(handler, "::") {
		module, entry, _ := strings.Cut(handler, "::")
		if module == "" || entry == "" || strings.Contains(entry, "::") {
			return Handler{}, fmt.Errorf("handler %q is not of the form pkg.Class::method", handler)
		}
		return Handler{Module: module, Entrypoint: entry}, nil
	}
	i := strings.LastIndex(handler, ".")
	if i <= 0 || i == len(handler)-1 {
		return Handler{}, fmt.Errorf("handler %q is not of the form module.entrypoint", handler)
	}
	return Handler{Module: handler[:i], Entrypoint: handler[i+1:]}, nil
}

// TriggerSpec is an event source bound to a function
type TriggerSpec struct {
	ServiceName       string         `json:"serviceName"`
	FunctionName      string         `json:"functionName"`
	TriggerName       string         `json:"triggerName"`
	TriggerType       string         `json:"triggerType"`
	TriggerProperties map[string]any `json:"triggerProperties"`
}

// GroupSpec is an API gateway group
type GroupSpec struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// ApiSpec binds an HTTP route in a group to a function
type ApiSpec struct {
	ApiName        string         `json:"apiName"`
	GroupName      string         `json:"groupName"`
	ServiceName    string         `json:"serviceName"`
	FunctionName   string         `json:"functionName"`
	Method         string         `json:"method"`
	RequestPath    string         `json:"requestPath"`
	Description    *string        `json:"description,omitempty"`
	Auth           Auth           `json:"auth"`
	Parameters     []Parameter    `json:"parameters,omitempty"`
	RequestConfig  map[string]any `json:"requestConfig"`
	ResultConfig   ResultConfig   `json:"resultConfig"`
	Visibility     *string        `json:"visibility,omitempty"`
	StageName      string         `json:"stageName"`
	ServiceTimeout int            `json:"serviceTimeout"`
}

// FunctionID is the graph ID of the function this route invokes
func (a *ApiSpec) FunctionID() string {
	return FunctionID(a.ServiceName, a.FunctionName)
}

// Auth configures route authentication. Both fields stay nil when the template omits it.
type Auth struct {
	Type   *string        `json:"type"`
	Config map[string]any `json:"config"`
}

// Parameter describes one request parameter of a route
type Parameter struct {
	Location         string `json:"location,omitempty"`
	ApiParameterName string `json:"apiParameterName,omitempty"`
	ParameterType    string `json:"parameterType,omitempty"`
	Required         string `json:"required,omitempty"`
	Type             string `json:"type,omitempty"`
}

// ResultConfig describes a route's response samples
type ResultConfig struct {
	ResultType       *string `json:"resultType"`
	ResultSample     *string `json:"resultSample"`
	FailResultSample *string `json:"failResultSample"`
}

// TableSpec is a key-value table
type TableSpec struct {
	InstanceName string       `json:"instanceName"`
	TableName    string       `json:"tableName"`
	PrimaryKeys  []PrimaryKey `json:"primaryKeys"`
}

// PrimaryKey is one column of a table's primary key
type PrimaryKey struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (*RoleSpec) Kind() Kind     { return KindRole }
func (*ServiceSpec) Kind() Kind  { return KindService }
func (*FunctionSpec) Kind() Kind { return KindFunction }
func (*TriggerSpec) Kind() Kind  { return KindTrigger }
func (*GroupSpec) Kind() Kind    { return KindGroup }
func (*ApiSpec) Kind() Kind      { return KindApi }
func (*TableSpec) Kind() Kind    { return KindTable }

func (*RoleSpec) sealed()     {}
func (*ServiceSpec) sealed()  {}
func (*FunctionSpec) sealed() {}
func (*TriggerSpec) sealed()  {}
func (*GroupSpec) sealed()    {}
func (*ApiSpec) sealed()      {}
func (*TableSpec) sealed()    {}

// Graph IDs. Function and trigger names are only unique inside their parent,
// so their IDs carry the parent path.

func ServiceID(service string) string { return service }

func RoleID(service string) string { return service + "#role" }

func FunctionID(service, function string) string { return service + "/" + function }

func TriggerID(service, function, trigger string) string {
	return service + "/" + function + "/" + trigger
}

// IsARN reports whether a Role value names an existing role rather than an inline policy.
func IsARN(role string) bool {
	return strings.HasPrefix(role, "acs:ram::") || strings.HasPrefix(role, "arn:")
}
