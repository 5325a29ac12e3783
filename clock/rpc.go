package clock

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"git.fiblab.net/sim/syncer/v3"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName   = "roadflow.v1.ClockService"
	NowProcedure  = "/" + ServiceName + "/Now"
	servicePrefix = "/" + ServiceName + "/"
)

// Register 将ClockService注册到sidecar
func (c *Clock) Register(sidecar *syncer.Sidecar) {
	sidecar.Register(
		ServiceName,
		func(opts ...connect.HandlerOption) (pattern string, handler http.Handler) {
			mux := http.NewServeMux()
			mux.Handle(NowProcedure, connect.NewUnaryHandler(NowProcedure, c.Now, opts...))
			return servicePrefix, mux
		},
		syncer.WithNoLock(),
	)
}

// Now 获取当前模拟时间（小时）
func (c *Clock) Now(ctx context.Context, in *connect.Request[emptypb.Empty]) (*connect.Response[wrapperspb.DoubleValue], error) {
	return connect.NewResponse(wrapperspb.Double(c.Hours())), nil
}
