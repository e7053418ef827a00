// Package api exposes the daemon to local clients over gRPC. Requests and
// responses are google.protobuf.Struct messages keyed by snake_case names.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "confchat.v1.Messaging"

// Method names.
const (
	MethodStatus        = "Status"
	MethodListContacts  = "ListContacts"
	MethodSelectContact = "SelectContact"
	MethodSendMessage   = "SendMessage"
	MethodSearch        = "Search"
	MethodResetSearch   = "ResetSearch"
	MethodListMessages  = "ListMessages"
	MethodMarkRead      = "MarkRead"
	MethodReconnect     = "Reconnect"
)

// MessagingServer is the server API for the Messaging service.
type MessagingServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListContacts(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SelectContact(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ResetSearch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFunc func(MessagingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(MessagingServer)
			if interceptor == nil {
				return fn(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the Messaging service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MessagingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, MessagingServer.Status),
		unary(MethodListContacts, MessagingServer.ListContacts),
		unary(MethodSelectContact, MessagingServer.SelectContact),
		unary(MethodSendMessage, MessagingServer.SendMessage),
		unary(MethodSearch, MessagingServer.Search),
		unary(MethodResetSearch, MessagingServer.ResetSearch),
		unary(MethodListMessages, MessagingServer.ListMessages),
		unary(MethodMarkRead, MessagingServer.MarkRead),
		unary(MethodReconnect, MessagingServer.Reconnect),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "confchat/v1/messaging.proto",
}

// RegisterMessagingServer registers srv on s.
func RegisterMessagingServer(s grpc.ServiceRegistrar, srv MessagingServer) {
	s.RegisterService(&ServiceDesc, srv)
}
