package schema

import (
	"math"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/fundeploy/types"
)

// propertySchemas holds the Properties schema of every taggable kind.
// Roles and triggers are not tagged in templates and have no entry.
var propertySchemas = map[types.Kind]*Object{
	types.KindService:  serviceProperties,
	types.KindFunction: functionProperties,
	types.KindGroup:    groupProperties,
	types.KindApi:      apiProperties,
	types.KindTable:    tableProperties,
}

var serviceProperties = &Object{Fields: map[string]Field{
	"Description":    {Type: String},
	"Role":           {Type: String},
	"Policies":       {Type: Any, Check: checkPolicies},
	"InternetAccess": {Type: Bool},
	"VpcConfig": {Type: Map, Object: &Object{Fields: map[string]Field{
		"VpcId":           {Type: String, Required: true},
		"VSwitchIds":      {Type: List, Required: true, Items: &Field{Type: String}},
		"SecurityGroupId": {Type: String, Required: true},
	}}},
	"LogConfig": {Type: Map, Object: &Object{Fields: map[string]Field{
		"Project":  {Type: String, Required: true},
		"Logstore": {Type: String, Required: true},
	}}},
}}

var policyDocument = &Object{Fields: map[string]Field{
	"Version": {Type: String},
	"Statement": {Type: List, Required: true, MinItems: 1, Items: &Field{Type: Map, Object: &Object{Fields: map[string]Field{
		"Effect":   {Type: String, Required: true, Enum: []string{"Allow", "Deny"}},
		"Action":   {Type: Any, Required: true, Check: checkStringOrList},
		"Resource": {Type: Any, Check: checkStringOrList},
	}}}},
}}

// checkPolicies accepts a policy name, a policy document, or a list mixing both.
func checkPolicies(c *Checker, path string, n *yaml.Node) {
	if n.Kind == yaml.SequenceNode {
		for i, item := range n.Content {
			checkPolicy(c, indexPath(path, i), item)
		}
		return
	}
	checkPolicy(c, path, n)
}

func checkPolicy(c *Checker, path string, n *yaml.Node) {
	switch {
	case n.Kind == yaml.ScalarNode && n.Tag == "!!str":
	case n.Kind == yaml.MappingNode:
		c.Object(path, n, policyDocument)
	default:
		c.Add(path, "policy name or policy document", n)
	}
}

func checkStringOrList(c *Checker, path string, n *yaml.Node) {
	if n.Kind == yaml.SequenceNode {
		for i, item := range n.Content {
			if !scalarOf(item, String) {
				c.Add(indexPath(path, i), "string", item)
			}
		}
		return
	}
	if !scalarOf(n, String) {
		c.Add(path, "string or sequence of strings", n)
	}
}

var functionProperties = &Object{Fields: map[string]Field{
	"Handler":              {Type: String, Required: true},
	"Runtime":              {Type: String, Required: true, Enum: types.Runtimes},
	"CodeUri":              {Type: String, Required: true},
	"Description":          {Type: String},
	"MemorySize":           {Type: Int, Check: checkInt32},
	"Timeout":              {Type: Int, Check: checkInt32},
	"EnvironmentVariables": {Type: StringMap},
}}

// checkInt32 rejects integers the control plane cannot hold
func checkInt32(c *Checker, path string, n *yaml.Node) {
	var v int64
	if err := n.Decode(&v); err != nil || v < math.MinInt32 || v > math.MaxInt32 {
		c.addGot(path, "32-bit integer", n.Value, n.Line)
	}
}

var groupProperties = &Object{Fields: map[string]Field{
	"Name":        {Type: String},
	"Description": {Type: String},
}}

// Methods accepted by Api routes, matched case-insensitively.
var Methods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "ANY"}

var apiProperties = &Object{Fields: map[string]Field{
	"GroupName":      {Type: String, Required: true},
	"ServiceName":    {Type: String, Required: true},
	"FunctionName":   {Type: String, Required: true},
	"Method":         {Type: String, Required: true, Enum: Methods, FoldCase: true},
	"RequestPath":    {Type: String, Required: true},
	"Description":    {Type: String},
	"Visibility":     {Type: String, Enum: []string{"PUBLIC", "PRIVATE"}},
	"StageName":      {Type: String},
	"ServiceTimeout": {Type: Int},
	"Auth": {Type: Map, Object: &Object{Fields: map[string]Field{
		"Type":   {Type: String},
		"Config": {Type: Map},
	}}},
	"Parameters": {Type: List, Items: &Field{Type: Map, Object: &Object{Fields: map[string]Field{
		"Location":         {Type: String},
		"ApiParameterName": {Type: String},
		"ParameterType":    {Type: String},
		"Required":         {Type: String},
		"Type":             {Type: String},
	}}}},
	"RequestConfig": {Type: Map},
	"ResultConfig": {Type: Map, Object: &Object{Fields: map[string]Field{
		"ResultType":       {Type: String},
		"ResultSample":     {Type: String},
		"FailResultSample": {Type: String},
	}}},
}}

var tableProperties = &Object{Fields: map[string]Field{
	"InstanceName": {Type: String, Required: true},
	"TableName":    {Type: String},
	"PrimaryKeys": {Type: List, Required: true, MinItems: 1, Items: &Field{Type: Map, Object: &Object{Fields: map[string]Field{
		"Name": {Type: String, Required: true},
		"Type": {Type: String, Required: true, Enum: []string{"STRING", "INTEGER", "BINARY"}},
	}}}},
}}
