package local

import (
	"context"
	"fmt"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/types"
)

// MakeRole stores a role keyed by its name
func (b *Backend) MakeRole(ctx context.Context, in providers.RoleInput) (types.Handle, error) {
	if in.RoleName == "" {
		return types.Handle{}, types.Permanentf("local.MakeRole", "role name is empty")
	}
	return b.upsert(ctx, types.KindRole, in.RoleName, in.RoleName, nil, in)
}

// MakeService stores a service. The role must be a realized role or an external ARN.
func (b *Backend) MakeService(ctx context.Context, in providers.ServiceInput) (types.Handle, error) {
	if in.Role == "" {
		return types.Handle{}, types.Permanentf("local.MakeService", "service %s has no role", in.ServiceName)
	}
	attrs := map[string]string{"role": in.Role}
	if in.LogConfig.Enabled() {
		attrs["logProject"] = in.LogConfig.Project
		attrs["logstore"] = in.LogConfig.Logstore
	}
	return b.upsert(ctx, types.KindService, in.ServiceName, in.ServiceName, attrs, in)
}

// MakeFunction stores a function under its service
func (b *Backend) MakeFunction(ctx context.Context, in providers.FunctionInput) (types.Handle, error) {
	if in.Service.IsZero() || !b.exists(types.KindService, in.ServiceName) {
		return types.Handle{}, types.Permanentf("local.MakeFunction", "service %s does not exist", in.ServiceName)
	}
	key := types.FunctionID(in.ServiceName, in.FunctionName)
	attrs := map[string]string{"service": in.Service.ID}
	return b.upsert(ctx, types.KindFunction, key, in.FunctionName, attrs, in)
}

// MakeTrigger stores a trigger under its function
func (b *Backend) MakeTrigger(ctx context.Context, in providers.TriggerInput) (types.Handle, error) {
	fnKey := types.FunctionID(in.ServiceName, in.FunctionName)
	if in.Function.IsZero() || !b.exists(types.KindFunction, fnKey) {
		return types.Handle{}, types.Permanentf("local.MakeTrigger", "function %s does not exist", fnKey)
	}
	if _, ok := types.TriggerRequiredProperties[in.TriggerType]; !ok {
		return types.Handle{}, types.Permanentf("local.MakeTrigger", "unsupported trigger type %s", in.TriggerType)
	}
	key := types.TriggerID(in.ServiceName, in.FunctionName, in.TriggerName)
	attrs := map[string]string{"function": in.Function.ID, "type": in.TriggerType}
	return b.upsert(ctx, types.KindTrigger, key, in.TriggerName, attrs, in)
}

// MakeGroup stores an API group keyed by its name
func (b *Backend) MakeGroup(ctx context.Context, in providers.GroupInput) (types.Handle, error) {
	if in.Name == "" {
		return types.Handle{}, types.Permanentf("local.MakeGroup", "group name is empty")
	}
	attrs := map[string]string{"subDomain": in.Name + ".apigateway.local"}
	return b.upsert(ctx, types.KindGroup, in.Name, in.Name, attrs, in)
}

// MakeApi stores a route inside a realized group
func (b *Backend) MakeApi(ctx context.Context, group types.Handle, in providers.ApiInput) (types.Handle, error) {
	if group.IsZero() || !b.exists(types.KindGroup, group.Name) {
		return types.Handle{}, types.Permanentf("local.MakeApi", "group %s does not exist", in.GroupName)
	}
	if !b.exists(types.KindFunction, types.FunctionID(in.ServiceName, in.FunctionName)) {
		return types.Handle{}, types.Permanentf("local.MakeApi", "function %s/%s does not exist", in.ServiceName, in.FunctionName)
	}
	if in.RoleArn == "" {
		return types.Handle{}, types.Permanentf("local.MakeApi", "api %s has no role", in.ApiName)
	}
	key := group.Name + "/" + in.ApiName
	attrs := map[string]string{
		"group": group.ID,
		"url":   fmt.Sprintf("http://%s/%s%s", group.Attr("subDomain"), in.StageName, in.RequestPath),
	}
	return b.upsert(ctx, types.KindApi, key, in.ApiName, attrs, in)
}

// MakeOtsTable stores a table keyed by instance and table name
func (b *Backend) MakeOtsTable(ctx context.Context, in providers.TableInput) (types.Handle, error) {
	if len(in.PrimaryKeys) == 0 {
		return types.Handle{}, types.Permanentf("local.MakeOtsTable", "table %s has no primary key", in.TableName)
	}
	key := in.InstanceName + "/" + in.TableName
	return b.upsert(ctx, types.KindTable, key, in.TableName, map[string]string{"instance": in.InstanceName}, in)
}
