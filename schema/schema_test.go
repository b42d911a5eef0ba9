package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/fundeploy/template"
	"github.com/yairfalse/fundeploy/types"
)

func parse(t *testing.T, src string) *template.Document {
	t.Helper()
	doc, err := template.Parse([]byte(src), template.FormatYAML)
	require.NoError(t, err)
	return doc
}

func violations(t *testing.T, err error) map[string]*types.SchemaViolation {
	t.Helper()
	require.Error(t, err)
	var list *types.ViolationList
	require.True(t, errors.As(err, &list))
	out := make(map[string]*types.SchemaViolation, len(list.Violations))
	for _, v := range list.Violations {
		out[v.Path] = v
	}
	return out
}

func TestValidate_Fixtures(t *testing.T) {
	for _, name := range []string{
		"helloworld.yml",
		"timer.yml",
		"openid_connect.yml",
		"wechat.yml",
		"ots_stream.jsonc",
		"policies.yml",
	} {
		t.Run(name, func(t *testing.T) {
			doc, err := template.Load("../template/testdata/" + name)
			require.NoError(t, err)
			assert.NoError(t, Validate(doc))
		})
	}
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	doc := parse(t, `
svc:
  Type: Fun::Serverless::Service
  Properties:
    VpcConfig:
      VpcId: vpc-1
    LogConfig:
      Project: p
  fn:
    Type: Fun::Serverless::Function
    Properties:
      Handler: index.handler
      Runtime: cobol
      Timeout: soon
tbl:
  Type: Fun::Serverless::Table
  Properties:
    PrimaryKeys: []
`)
	got := violations(t, Validate(doc))

	assert.Contains(t, got, "svc.Properties.VpcConfig.VSwitchIds")
	assert.Contains(t, got, "svc.Properties.VpcConfig.SecurityGroupId")
	assert.Contains(t, got, "svc.Properties.LogConfig.Logstore")
	assert.Contains(t, got, "svc.fn.Properties.CodeUri")
	assert.Contains(t, got, "svc.fn.Properties.Runtime")
	assert.Contains(t, got, "tbl.Properties.InstanceName")
	assert.Contains(t, got, "tbl.Properties.PrimaryKeys")
	require.Contains(t, got, "svc.fn.Properties.Timeout")
	assert.Equal(t, "integer", got["svc.fn.Properties.Timeout"].Expected)
	assert.Equal(t, "string", got["svc.fn.Properties.Timeout"].Got)
	assert.Equal(t, 14, got["svc.fn.Properties.Timeout"].Line)
	assert.Len(t, got, 8)
}

func TestValidate_ResourceTypes(t *testing.T) {
	doc := parse(t, `
untyped:
  Properties: {}
unknown:
  Type: Fun::Serverless::Bucket
loose_fn:
  Type: Fun::Serverless::Function
  Properties:
    Handler: index.handler
    Runtime: nodejs8
    CodeUri: ./
svc:
  Type: Fun::Serverless::Service
  grp:
    Type: Fun::Serverless::Group
1bad:
  Type: Fun::Serverless::Group
g:
  Type: Fun::Serverless::Group
  Extra: true
`)
	got := violations(t, Validate(doc))

	assert.Contains(t, got, "untyped.Type")
	assert.Equal(t, `"Fun::Serverless::Bucket"`, got["unknown.Type"].Got)
	assert.Contains(t, got["loose_fn.Type"].Expected, "top-level")
	assert.Equal(t, types.TagFunction, got["svc.grp.Type"].Expected)
	assert.Contains(t, got, "1bad")
	assert.Contains(t, got, "g.Extra")
	assert.Len(t, got, 6)
}

func TestValidate_Policies(t *testing.T) {
	doc := parse(t, `
ok:
  Type: Fun::Serverless::Service
  Properties:
    Policies: AliyunOSSFullAccess
mixed:
  Type: Fun::Serverless::Service
  Properties:
    Policies:
      - AliyunOSSFullAccess
      - 42
      - Version: '1'
        Statement:
          - Effect: Maybe
            Action: ['log:Post', 7]
nodoc:
  Type: Fun::Serverless::Service
  Properties:
    Policies:
      Version: '1'
`)
	got := violations(t, Validate(doc))

	assert.Contains(t, got, "mixed.Properties.Policies[1]")
	assert.Contains(t, got, "mixed.Properties.Policies[2].Statement[0].Effect")
	assert.Contains(t, got, "mixed.Properties.Policies[2].Statement[0].Action[1]")
	assert.Contains(t, got, "nodoc.Properties.Policies.Statement")
	assert.Len(t, got, 4)
}

func TestValidate_Triggers(t *testing.T) {
	doc := parse(t, `
svc:
  Type: Fun::Serverless::Service
  fn:
    Type: Fun::Serverless::Function
    Properties:
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: ./
    Events:
      tick:
        Type: Timer
        Properties:
          CronExpression: '@every 1m'
          Enable: true
      web:
        Type: Websocket
        Properties: {}
      bare:
        Type: HTTP
`)
	got := violations(t, Validate(doc))

	require.Contains(t, got, "svc.fn.Events.tick.Properties.Payload")
	assert.Contains(t, got["svc.fn.Events.tick.Properties.Payload"].Expected, "Timer")
	assert.Contains(t, got, "svc.fn.Events.web.Type")
	assert.Contains(t, got, "svc.fn.Events.bare.Properties")
	assert.Len(t, got, 3)
}

func TestValidate_Api(t *testing.T) {
	doc := parse(t, `
grp:
  Type: Fun::Serverless::Group
lower:
  Type: Fun::Serverless::Api
  Properties:
    GroupName: grp
    Method: get
    RequestPath: /a
    ServiceName: svc
    FunctionName: fn
    Description: ~
bad:
  Type: Fun::Serverless::Api
  Properties:
    GroupName: ~
    Method: FETCH
    RequestPath: /b
    ServiceName: svc
    FunctionName: fn
    Visibility: INTERNAL
    Parameters:
      - Location: Query
        Required: false
`)
	got := violations(t, Validate(doc))

	require.Contains(t, got, "bad.Properties.GroupName")
	assert.Equal(t, "null", got["bad.Properties.GroupName"].Got)
	assert.Equal(t, `"FETCH"`, got["bad.Properties.Method"].Got)
	assert.Contains(t, got, "bad.Properties.Visibility")
	assert.Contains(t, got, "bad.Properties.Parameters[0].Required")
	assert.Len(t, got, 4)
}

func TestValidate_DuplicateKeys(t *testing.T) {
	doc := parse(t, `
svc:
  Type: Fun::Serverless::Service
  fn:
    Type: Fun::Serverless::Function
    Properties:
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: ./
      Timeout: 3
      Timeout: 4
`)
	got := violations(t, Validate(doc))

	require.Contains(t, got, "svc.fn.Properties.Timeout")
	assert.Equal(t, "duplicate", got["svc.fn.Properties.Timeout"].Got)
	assert.Len(t, got, 1)
}

func TestValidate_StringMap(t *testing.T) {
	doc := parse(t, `
svc:
  Type: Fun::Serverless::Service
  fn:
    Type: Fun::Serverless::Function
    Properties:
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: ./
      EnvironmentVariables:
        PORT: 8080
        NESTED: {a: b}
`)
	got := violations(t, Validate(doc))

	assert.Contains(t, got, "svc.fn.Properties.EnvironmentVariables.NESTED")
	assert.Len(t, got, 1)
}

func TestValidate_MergeKeys(t *testing.T) {
	doc := parse(t, `
fc:
  Type: 'Fun::Serverless::Service'
  hello:
    Type: 'Fun::Serverless::Function'
    Properties: &base
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: './'
  world:
    Type: 'Fun::Serverless::Function'
    Properties:
      <<: *base
      Timeout: 10
`)
	assert.NoError(t, Validate(doc))

	doc = parse(t, `
fc:
  Type: 'Fun::Serverless::Service'
  hello:
    Type: 'Fun::Serverless::Function'
    Properties: &base
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: './'
  world:
    Type: 'Fun::Serverless::Function'
    Properties:
      <<: *base
      Runtime: cobol
`)
	got := violations(t, Validate(doc))
	assert.Contains(t, got, "fc.world.Properties.Runtime")
	assert.Len(t, got, 1)
}

func TestValidate_Int32Fields(t *testing.T) {
	doc := parse(t, `
fc:
  Type: 'Fun::Serverless::Service'
  hello:
    Type: 'Fun::Serverless::Function'
    Properties:
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: './'
      MemorySize: 5000000000
      Timeout: 99999999999999999999
  ok:
    Type: 'Fun::Serverless::Function'
    Properties:
      Handler: index.handler
      Runtime: nodejs8
      CodeUri: './'
      MemorySize: 2147483647
      Timeout: 60
`)
	got := violations(t, Validate(doc))
	require.Contains(t, got, "fc.hello.Properties.MemorySize")
	assert.Equal(t, "32-bit integer", got["fc.hello.Properties.MemorySize"].Expected)
	assert.Equal(t, "5000000000", got["fc.hello.Properties.MemorySize"].Got)
	assert.Contains(t, got, "fc.hello.Properties.Timeout")
	assert.Len(t, got, 2)
}

func TestPropertySchemas(t *testing.T) {
	obj, ok := propertySchemas[types.KindApi]
	require.True(t, ok)
	assert.True(t, obj.Fields["GroupName"].Required)

	_, ok = propertySchemas[types.KindTrigger]
	assert.False(t, ok)
}
