package reconciler

import (
	"context"
	"fmt"

	"github.com/yairfalse/fundeploy/providers"
	"github.com/yairfalse/fundeploy/resolver"
	"github.com/yairfalse/fundeploy/types"
)

// handler builds a primitive input from a step and the handles of its
// dependencies, then issues the call.
type handler func(ctx context.Context, r *run, step *resolver.Step) (types.Handle, error)

var handlers = map[types.Kind]handler{
	types.KindRole:     makeRole,
	types.KindService:  makeService,
	types.KindFunction: makeFunction,
	types.KindTrigger:  makeTrigger,
	types.KindGroup:    makeGroup,
	types.KindApi:      makeApi,
	types.KindTable:    makeTable,
}

func makeRole(ctx context.Context, r *run, step *resolver.Step) (types.Handle, error) {
	spec := step.Resource.Spec.(*types.RoleSpec)
	return r.primitives.MakeRole(ctx, providers.RoleInput{
		RoleName:    spec.RoleName,
		ServiceName: spec.ServiceName,
		Policies:    spec.Policies,
	})
}

func makeService(ctx context.Context, r *run, step *resolver.Step) (types.Handle, error) {
	spec := step.Resource.Spec.(*types.ServiceSpec)
	role, err := r.serviceRole(spec)
	if err != nil {
		return types.Handle{}, err
	}
	return r.primitives.MakeService(ctx, providers.ServiceInput{
		ServiceName:    spec.ServiceName,
		Description:    spec.Description,
		Role:           role,
		InternetAccess: spec.InternetAccess,
		VpcConfig:      spec.VpcConfig,
		LogConfig:      spec.LogConfig,
	})
}

func makeFunction(ctx context.Context, r *run, step *resolver.Step) (types.Handle, error) {
	spec := step.Resource.Spec.(*types.FunctionSpec)
	service, err := r.dependency(step.Resource.Parent)
	if err != nil {
		return types.Handle{}, err
	}
	return r.primitives.MakeFunction(ctx, providers.FunctionInput{
		Service:              service,
		ServiceName:          spec.ServiceName,
		FunctionName:         spec.FunctionName,
		Description:          spec.Description,
		Handler:              spec.Handler,
		Entrypoint:           spec.Entrypoint,
		Runtime:              spec.Runtime,
		CodeURI:              spec.CodeURI,
		MemorySize:           spec.MemorySize,
		Timeout:              spec.Timeout,
		EnvironmentVariables: spec.EnvironmentVariables,
	})
}

func makeTrigger(ctx context.Context, r *run, step *resolver.Step) (types.Handle, error) {
	spec := step.Resource.Spec.(*types.TriggerSpec)
	function, err := r.dependency(step.Resource.Parent)
	if err != nil {
		return types.Handle{}, err
	}
	return r.primitives.MakeTrigger(ctx, providers.TriggerInput{
		Function:          function,
		ServiceName:       spec.ServiceName,
		FunctionName:      spec.FunctionName,
		TriggerName:       spec.TriggerName,
		TriggerType:       spec.TriggerType,
		TriggerProperties: spec.TriggerProperties,
	})
}

func makeGroup(ctx context.Context, r *run, step *resolver.Step) (types.Handle, error) {
	spec := step.Resource.Spec.(*types.GroupSpec)
	return r.primitives.MakeGroup(ctx, providers.GroupInput{
		Name:        spec.Name,
		Description: spec.Description,
	})
}

func makeApi(ctx context.Context, r *run, step *resolver.Step) (types.Handle, error) {
	spec := step.Resource.Spec.(*types.ApiSpec)

	function, err := r.dependency(spec.FunctionID())
	if err != nil {
		return types.Handle{}, err
	}
	group, err := r.dependencyOfKind(step, types.KindGroup)
	if err != nil {
		return types.Handle{}, err
	}
	service, ok := r.plan.Step(types.ServiceID(spec.ServiceName))
	if !ok {
		return types.Handle{}, fmt.Errorf("service %s is not planned", spec.ServiceName)
	}
	role, err := r.serviceRole(service.Resource.Spec.(*types.ServiceSpec))
	if err != nil {
		return types.Handle{}, err
	}

	return r.primitives.MakeApi(ctx, group, providers.ApiInput{
		ApiName:        spec.ApiName,
		GroupName:      spec.GroupName,
		ServiceName:    spec.ServiceName,
		FunctionName:   function.Name,
		Function:       function,
		RoleArn:        role,
		Method:         spec.Method,
		RequestPath:    spec.RequestPath,
		Description:    spec.Description,
		Auth:           spec.Auth,
		Parameters:     spec.Parameters,
		RequestConfig:  spec.RequestConfig,
		ResultConfig:   spec.ResultConfig,
		Visibility:     spec.Visibility,
		StageName:      spec.StageName,
		ServiceTimeout: spec.ServiceTimeout,
	})
}

func makeTable(ctx context.Context, r *run, step *resolver.Step) (types.Handle, error) {
	spec := step.Resource.Spec.(*types.TableSpec)
	return r.primitives.MakeOtsTable(ctx, providers.TableInput{
		InstanceName: spec.InstanceName,
		TableName:    spec.TableName,
		PrimaryKeys:  spec.PrimaryKeys,
	})
}

// serviceRole is the external ARN of a service, or the ARN of the role
// created for it earlier in the run.
func (r *run) serviceRole(spec *types.ServiceSpec) (string, error) {
	if spec.RoleID == "" {
		return spec.RoleARN, nil
	}
	role, err := r.dependency(spec.RoleID)
	if err != nil {
		return "", err
	}
	if role.ARN == "" {
		return "", fmt.Errorf("role %s was realized without an ARN", spec.RoleID)
	}
	return role.ARN, nil
}

// dependency returns the handle of a realized step
func (r *run) dependency(id string) (types.Handle, error) {
	h, ok := r.agg.Handle(id)
	if !ok {
		return types.Handle{}, fmt.Errorf("dependency %s has not been realized", id)
	}
	return h, nil
}

// dependencyOfKind returns the handle of the step's only direct dependency of kind
func (r *run) dependencyOfKind(step *resolver.Step, kind types.Kind) (types.Handle, error) {
	for _, id := range step.DependsOn {
		dep, ok := r.plan.Step(id)
		if ok && dep.Resource.Kind == kind {
			return r.dependency(id)
		}
	}
	return types.Handle{}, fmt.Errorf("%s has no %s dependency", step.ID(), kind)
}
