// Package normalizer turns a validated template into a typed resource graph.
package normalizer

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/fundeploy/template"
	"github.com/yairfalse/fundeploy/types"
)

// Route defaults
const (
	DefaultStageName      = "RELEASE"
	DefaultServiceTimeout = 3000
)

// RolePrefix prefixes the names of roles generated for services
const RolePrefix = "fundeploy-role-"

type serviceProps struct {
	Description    *string    `yaml:"Description"`
	Role           string     `yaml:"Role"`
	Policies       yaml.Node  `yaml:"Policies"`
	InternetAccess *bool      `yaml:"InternetAccess"`
	VpcConfig      *vpcConfig `yaml:"VpcConfig"`
	LogConfig      *logConfig `yaml:"LogConfig"`
}

type vpcConfig struct {
	VpcID           string   `yaml:"VpcId"`
	VSwitchIDs      []string `yaml:"VSwitchIds"`
	SecurityGroupID string   `yaml:"SecurityGroupId"`
}

type logConfig struct {
	Project  string `yaml:"Project"`
	Logstore string `yaml:"Logstore"`
}

type policyDocument struct {
	Version   string      `yaml:"Version"`
	Statement []statement `yaml:"Statement"`
}

type statement struct {
	Effect   string     `yaml:"Effect"`
	Action   stringList `yaml:"Action"`
	Resource stringList `yaml:"Resource"`
}

// stringList accepts a single string or a sequence of strings
type stringList []string

func (s *stringList) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		*s = stringList{n.Value}
		return nil
	}
	var list []string
	if err := n.Decode(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

type functionProps struct {
	Handler              string            `yaml:"Handler"`
	Runtime              string            `yaml:"Runtime"`
	CodeURI              string            `yaml:"CodeUri"`
	Description          *string           `yaml:"Description"`
	MemorySize           *int32            `yaml:"MemorySize"`
	Timeout              *int32            `yaml:"Timeout"`
	EnvironmentVariables map[string]string `yaml:"EnvironmentVariables"`
}

type triggerBody struct {
	Type       string         `yaml:"Type"`
	Properties map[string]any `yaml:"Properties"`
}

type groupProps struct {
	Name        string  `yaml:"Name"`
	Description *string `yaml:"Description"`
}

type apiProps struct {
	GroupName      string         `yaml:"GroupName"`
	ServiceName    string         `yaml:"ServiceName"`
	FunctionName   string         `yaml:"FunctionName"`
	Method         string         `yaml:"Method"`
	RequestPath    string         `yaml:"RequestPath"`
	Description    *string        `yaml:"Description"`
	Visibility     *string        `yaml:"Visibility"`
	StageName      string         `yaml:"StageName"`
	ServiceTimeout *int           `yaml:"ServiceTimeout"`
	Auth           *auth          `yaml:"Auth"`
	Parameters     []parameter    `yaml:"Parameters"`
	RequestConfig  map[string]any `yaml:"RequestConfig"`
	ResultConfig   *resultConfig  `yaml:"ResultConfig"`
}

type auth struct {
	Type   *string        `yaml:"Type"`
	Config map[string]any `yaml:"Config"`
}

type parameter struct {
	Location         string `yaml:"Location"`
	ApiParameterName string `yaml:"ApiParameterName"`
	ParameterType    string `yaml:"ParameterType"`
	Required         string `yaml:"Required"`
	Type             string `yaml:"Type"`
}

type resultConfig struct {
	ResultType       *string `yaml:"ResultType"`
	ResultSample     *string `yaml:"ResultSample"`
	FailResultSample *string `yaml:"FailResultSample"`
}

type tableProps struct {
	InstanceName string `yaml:"InstanceName"`
	TableName    string `yaml:"TableName"`
	PrimaryKeys  []struct {
		Name string `yaml:"Name"`
		Type string `yaml:"Type"`
	} `yaml:"PrimaryKeys"`
}

// Normalize builds the resource graph of a validated template.
// Resources keep declaration order; generated roles come right before their service.
func Normalize(doc *template.Document) (*types.Graph, error) {
	n := &normalizer{graph: types.NewGraph()}
	for _, e := range template.Entries(doc.Resources) {
		tag := template.Lookup(e.Value, types.KeyType)
		if tag == nil {
			return nil, &types.NormalizationError{Path: e.Key, Err: fmt.Errorf("resource has no Type")}
		}
		kind, ok := types.KindForTag(tag.Value)
		if !ok {
			return nil, &types.NormalizationError{Path: e.Key, Err: fmt.Errorf("unknown resource type %q", tag.Value)}
		}

		var err error
		switch kind {
		case types.KindService:
			err = n.service(e.Key, e.Value)
		case types.KindGroup:
			err = n.group(e.Key, e.Value)
		case types.KindApi:
			err = n.api(e.Key, e.Value)
		case types.KindTable:
			err = n.table(e.Key, e.Value)
		default:
			err = &types.NormalizationError{Path: e.Key, Err: fmt.Errorf("%s cannot be declared at the top level", kind)}
		}
		if err != nil {
			return nil, err
		}
	}
	return n.graph, nil
}

type normalizer struct {
	graph *types.Graph
}

func (n *normalizer) add(r *types.Resource) error {
	if err := n.graph.Add(r); err != nil {
		return &types.NormalizationError{Path: r.ID, Err: err}
	}
	return nil
}

// decode reads the Properties of a resource body into out. Absent Properties leave out untouched.
func decode(path string, body *yaml.Node, out any) error {
	props := template.Lookup(body, types.KeyProperties)
	if template.IsNull(props) {
		return nil
	}
	if err := props.Decode(out); err != nil {
		return &types.NormalizationError{Path: path + "." + types.KeyProperties, Err: err}
	}
	return nil
}

func (n *normalizer) service(name string, body *yaml.Node) error {
	var props serviceProps
	if err := decode(name, body, &props); err != nil {
		return err
	}

	spec := &types.ServiceSpec{
		ServiceName:    name,
		Description:    props.Description,
		InternetAccess: props.InternetAccess,
	}
	if props.VpcConfig != nil {
		spec.VpcConfig = &types.VpcConfig{
			VpcID:           props.VpcConfig.VpcID,
			VSwitchIDs:      props.VpcConfig.VSwitchIDs,
			SecurityGroupID: props.VpcConfig.SecurityGroupID,
		}
	}
	if props.LogConfig != nil {
		spec.LogConfig = types.LogConfig{Project: props.LogConfig.Project, Logstore: props.LogConfig.Logstore}
	}

	if types.IsARN(props.Role) {
		spec.RoleARN = props.Role
	} else {
		policies, err := policyRefs(name+".Properties.Policies", &props.Policies)
		if err != nil {
			return err
		}
		if props.Role != "" {
			policies = append([]types.PolicyRef{{Name: props.Role}}, policies...)
		}
		role := &types.Resource{
			ID:     types.RoleID(name),
			Name:   RolePrefix + name,
			Kind:   types.KindRole,
			Parent: name,
			Spec: &types.RoleSpec{
				RoleName:    RolePrefix + name,
				ServiceName: name,
				Policies:    policies,
			},
		}
		if err := n.add(role); err != nil {
			return err
		}
		spec.RoleID = role.ID
	}

	if err := n.add(&types.Resource{ID: types.ServiceID(name), Name: name, Kind: types.KindService, Spec: spec}); err != nil {
		return err
	}

	for _, e := range template.Entries(body) {
		if e.Key == types.KeyType || e.Key == types.KeyProperties {
			continue
		}
		if err := n.function(name, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}

// policyRefs flattens a Policies value: a name, a document, or a list of both.
func policyRefs(path string, n *yaml.Node) ([]types.PolicyRef, error) {
	n = template.Resolve(n)
	if n == nil || n.Kind == 0 || template.IsNull(n) {
		return nil, nil
	}

	items := []*yaml.Node{n}
	if n.Kind == yaml.SequenceNode {
		items = n.Content
	}

	refs := make([]types.PolicyRef, 0, len(items))
	for i, item := range items {
		item = template.Resolve(item)
		switch item.Kind {
		case yaml.ScalarNode:
			refs = append(refs, types.PolicyRef{Name: item.Value})
		case yaml.MappingNode:
			var doc policyDocument
			if err := item.Decode(&doc); err != nil {
				return nil, &types.NormalizationError{Path: fmt.Sprintf("%s[%d]", path, i), Err: err}
			}
			refs = append(refs, types.PolicyRef{Document: toPolicyDocument(doc)})
		default:
			return nil, &types.NormalizationError{
				Path: fmt.Sprintf("%s[%d]", path, i),
				Err:  fmt.Errorf("policy must be a name or a document, got %s", template.Describe(item)),
			}
		}
	}
	return refs, nil
}

func toPolicyDocument(doc policyDocument) *types.PolicyDocument {
	out := &types.PolicyDocument{Version: doc.Version, Statement: make([]types.Statement, len(doc.Statement))}
	for i, s := range doc.Statement {
		out.Statement[i] = types.Statement{Effect: s.Effect, Action: s.Action, Resource: s.Resource}
	}
	return out
}

func (n *normalizer) function(service, name string, body *yaml.Node) error {
	path := service + "." + name
	var props functionProps
	if err := decode(path, body, &props); err != nil {
		return err
	}

	entry, err := types.ParseHandler(props.Runtime, props.Handler)
	if err != nil {
		return &types.NormalizationError{Path: path + ".Properties.Handler", Err: err}
	}

	fn := &types.Resource{
		ID:     types.FunctionID(service, name),
		Name:   name,
		Kind:   types.KindFunction,
		Parent: types.ServiceID(service),
		Spec: &types.FunctionSpec{
			ServiceName:          service,
			FunctionName:         name,
			Description:          props.Description,
			Handler:              props.Handler,
			Entrypoint:           entry,
			Runtime:              props.Runtime,
			CodeURI:              props.CodeURI,
			MemorySize:           props.MemorySize,
			Timeout:              props.Timeout,
			EnvironmentVariables: props.EnvironmentVariables,
		},
	}
	if err := n.add(fn); err != nil {
		return err
	}

	for _, e := range template.Entries(template.Lookup(body, types.KeyEvents)) {
		var trig triggerBody
		if err := e.Value.Decode(&trig); err != nil {
			return &types.NormalizationError{Path: path + ".Events." + e.Key, Err: err}
		}
		err := n.add(&types.Resource{
			ID:     types.TriggerID(service, name, e.Key),
			Name:   e.Key,
			Kind:   types.KindTrigger,
			Parent: fn.ID,
			Spec: &types.TriggerSpec{
				ServiceName:       service,
				FunctionName:      name,
				TriggerName:       e.Key,
				TriggerType:       trig.Type,
				TriggerProperties: trig.Properties,
			},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (n *normalizer) group(name string, body *yaml.Node) error {
	var props groupProps
	if err := decode(name, body, &props); err != nil {
		return err
	}
	if props.Name == "" {
		props.Name = name
	}
	return n.add(&types.Resource{
		ID:   name,
		Name: props.Name,
		Kind: types.KindGroup,
		Spec: &types.GroupSpec{Name: props.Name, Description: props.Description},
	})
}

func (n *normalizer) api(name string, body *yaml.Node) error {
	var props apiProps
	if err := decode(name, body, &props); err != nil {
		return err
	}

	spec := &types.ApiSpec{
		ApiName:        name,
		GroupName:      props.GroupName,
		ServiceName:    props.ServiceName,
		FunctionName:   props.FunctionName,
		Method:         props.Method,
		RequestPath:    props.RequestPath,
		Description:    props.Description,
		Visibility:     props.Visibility,
		StageName:      props.StageName,
		ServiceTimeout: DefaultServiceTimeout,
		RequestConfig:  lowerKeys(props.RequestConfig),
	}
	if spec.StageName == "" {
		spec.StageName = DefaultStageName
	}
	if props.ServiceTimeout != nil {
		spec.ServiceTimeout = *props.ServiceTimeout
	}
	if props.Auth != nil {
		spec.Auth = types.Auth{Type: props.Auth.Type, Config: props.Auth.Config}
	}
	if props.ResultConfig != nil {
		spec.ResultConfig = types.ResultConfig{
			ResultType:       props.ResultConfig.ResultType,
			ResultSample:     props.ResultConfig.ResultSample,
			FailResultSample: props.ResultConfig.FailResultSample,
		}
	}
	for _, p := range props.Parameters {
		spec.Parameters = append(spec.Parameters, types.Parameter(p))
	}

	return n.add(&types.Resource{ID: name, Name: name, Kind: types.KindApi, Spec: spec})
}

// lowerKeys lowercases the first letter of each key. The result is never nil.
func lowerKeys(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if k == "" {
			out[k] = v
			continue
		}
		r, size := utf8.DecodeRuneInString(k)
		out[string(unicode.ToLower(r))+k[size:]] = v
	}
	return out
}

func (n *normalizer) table(name string, body *yaml.Node) error {
	var props tableProps
	if err := decode(name, body, &props); err != nil {
		return err
	}
	if props.TableName == "" {
		props.TableName = name
	}

	spec := &types.TableSpec{InstanceName: props.InstanceName, TableName: props.TableName}
	for _, pk := range props.PrimaryKeys {
		spec.PrimaryKeys = append(spec.PrimaryKeys, types.PrimaryKey{Name: pk.Name, Type: pk.Type})
	}
	return n.add(&types.Resource{ID: name, Name: props.TableName, Kind: types.KindTable, Spec: spec})
}
