// Copyright 2025 LLM Firewall Project
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package firewallpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	FirewallService_CheckContent_FullMethodName = "/firewall.FirewallService/CheckContent"
	FirewallService_HealthCheck_FullMethodName  = "/firewall.FirewallService/HealthCheck"
)

// FirewallServiceClient is the client API for FirewallService.
type FirewallServiceClient interface {
	CheckContent(ctx context.Context, in *CheckContentRequest, opts ...grpc.CallOption) (*CheckContentResponse, error)
	HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error)
}

type firewallServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewFirewallServiceClient(cc grpc.ClientConnInterface) FirewallServiceClient {
	return &firewallServiceClient{cc}
}

func (c *firewallServiceClient) CheckContent(ctx context.Context, in *CheckContentRequest, opts ...grpc.CallOption) (*CheckContentResponse, error) {
	out := new(CheckContentResponse)
	err := c.cc.Invoke(ctx, FirewallService_CheckContent_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *firewallServiceClient) HealthCheck(ctx context.Context, in *HealthCheckRequest, opts ...grpc.CallOption) (*HealthCheckResponse, error) {
	out := new(HealthCheckResponse)
	err := c.cc.Invoke(ctx, FirewallService_HealthCheck_FullMethodName, in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FirewallServiceServer is the server API for FirewallService. Production
// deployments run the analyzer out of process; this interface exists so tests
// can stand up in-memory analyzers.
type FirewallServiceServer interface {
	CheckContent(ctx context.Context, in *CheckContentRequest) (*CheckContentResponse, error)
	HealthCheck(ctx context.Context, in *HealthCheckRequest) (*HealthCheckResponse, error)
}

// UnimplementedFirewallServiceServer can be embedded for forward-compatible
// partial implementations.
type UnimplementedFirewallServiceServer struct{}

func (UnimplementedFirewallServiceServer) CheckContent(context.Context, *CheckContentRequest) (*CheckContentResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method CheckContent not implemented")
}

func (UnimplementedFirewallServiceServer) HealthCheck(context.Context, *HealthCheckRequest) (*HealthCheckResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method HealthCheck not implemented")
}

func RegisterFirewallServiceServer(s grpc.ServiceRegistrar, srv FirewallServiceServer) {
	s.RegisterService(&FirewallService_ServiceDesc, srv)
}

func _FirewallService_CheckContent_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckContentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FirewallServiceServer).CheckContent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FirewallService_CheckContent_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FirewallServiceServer).CheckContent(ctx, req.(*CheckContentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _FirewallService_HealthCheck_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(HealthCheckRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FirewallServiceServer).HealthCheck(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: FirewallService_HealthCheck_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FirewallServiceServer).HealthCheck(ctx, req.(*HealthCheckRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var FirewallService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "firewall.FirewallService",
	HandlerType: (*FirewallServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckContent",
			Handler:    _FirewallService_CheckContent_Handler,
		},
		{
			MethodName: "HealthCheck",
			Handler:    _FirewallService_HealthCheck_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/firewall.proto",
}
